package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/sales-etl/internal/blobstore"
	"github.com/dvloznov/sales-etl/internal/logger"
	"github.com/dvloznov/sales-etl/internal/metrics"
	"github.com/dvloznov/sales-etl/internal/rules"
	"github.com/dvloznov/sales-etl/internal/runlog"
	"github.com/dvloznov/sales-etl/internal/transform"
	"github.com/dvloznov/sales-etl/internal/validate"
	"github.com/rs/zerolog"
)

// Driver runs the validation and transformation stages for one batch date.
type Driver struct {
	store    blobstore.Store
	recorder runlog.Recorder
	metrics  *metrics.Registry
	catalog  rules.Catalog
}

// NewDriver wires a Driver. reg may be nil.
func NewDriver(store blobstore.Store, recorder runlog.Recorder, reg *metrics.Registry, catalog rules.Catalog) *Driver {
	return &Driver{
		store:    store,
		recorder: recorder,
		metrics:  reg,
		catalog:  catalog,
	}
}

// Report is the combined result of a full run.
type Report struct {
	BatchDate      civil.Date
	Validation     *validate.Metrics
	Transformation *transform.Metrics
}

// ParseBatchDate parses YYYY-MM-DD. An empty string means today in UTC.
func ParseBatchDate(s string) (civil.Date, error) {
	return parseBatchDate(s, time.Now())
}

func parseBatchDate(s string, now time.Time) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.DateOf(now.UTC()), nil
	}
	d, err := time.Parse(rules.CanonicalDateLayout, s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid batch date %q, want YYYY-MM-DD: %w", s, err)
	}
	return civil.DateOf(d), nil
}

// RunValidation cleans raw-zone/<date>.csv into processed-zone/<date>.csv.
func (d *Driver) RunValidation(ctx context.Context, date civil.Date) (*validate.Metrics, error) {
	state := &PipelineState{Stage: runlog.StageValidation, BatchDate: date}
	ctx, log := stageContext(ctx, state)

	p := NewPipeline(
		&StartRunStep{Recorder: d.recorder},
		&FetchStep{Store: d.store, Zone: blobstore.RawZone},
		&DecodeTableStep{},
		&ValidateStep{Validator: validate.New(d.catalog, log)},
		&EncodeValidatedStep{},
		&PersistStep{Store: d.store},
		&MarkSuccessStep{Recorder: d.recorder},
	)

	err := d.execute(ctx, p, state)
	if state.ValidationMetrics != nil {
		d.metrics.ObserveValidation(*state.ValidationMetrics)
	}
	if err != nil {
		return state.ValidationMetrics, fmt.Errorf("RunValidation %s: %w", date, err)
	}
	return state.ValidationMetrics, nil
}

// RunTransformation enriches processed-zone/<date>.csv in place and writes
// the regional summary to aggregates-zone/<date>_regions.csv.
func (d *Driver) RunTransformation(ctx context.Context, date civil.Date) (*transform.Metrics, error) {
	state := &PipelineState{Stage: runlog.StageTransformation, BatchDate: date}
	ctx, log := stageContext(ctx, state)

	p := NewPipeline(
		&StartRunStep{Recorder: d.recorder},
		&FetchStep{Store: d.store, Zone: blobstore.ProcessedZone},
		&DecodeRecordsStep{},
		&TransformStep{Transformer: transform.New(d.catalog, log)},
		&EncodeEnrichedStep{},
		&PersistStep{Store: d.store},
		&MarkSuccessStep{Recorder: d.recorder},
	)

	err := d.execute(ctx, p, state)
	if state.TransformMetrics != nil {
		d.metrics.ObserveTransformation(*state.TransformMetrics)
	}
	if err != nil {
		return nil, fmt.Errorf("RunTransformation %s: %w", date, err)
	}
	return state.TransformMetrics, nil
}

// Run executes validation then transformation. Transformation is skipped
// when validation fails.
func (d *Driver) Run(ctx context.Context, date civil.Date) (*Report, error) {
	report := &Report{BatchDate: date}

	vm, err := d.RunValidation(ctx, date)
	report.Validation = vm
	if err != nil {
		return report, err
	}

	tm, err := d.RunTransformation(ctx, date)
	report.Transformation = tm
	if err != nil {
		return report, err
	}

	LogSummary(ctx, report)
	return report, nil
}

// stageContext tags the context logger with the stage and batch date.
func stageContext(ctx context.Context, state *PipelineState) (context.Context, zerolog.Logger) {
	log := logger.FromContext(ctx).With().
		Str("stage", string(state.Stage)).
		Str("batch_date", state.BatchDate.String()).
		Logger()
	return logger.WithContext(ctx, log), log
}

// execute runs p, marks the ledger row FAILED on error and records stage
// metrics for both outcomes.
func (d *Driver) execute(ctx context.Context, p *Pipeline, state *PipelineState) error {
	log := logger.FromContext(ctx)
	start := time.Now()
	log.Info().Msg("Stage started")

	err := p.Execute(ctx, state)
	d.metrics.ObserveStage(strings.ToLower(string(state.Stage)), time.Since(start), err)

	if err != nil {
		if state.RunID != "" {
			d.recorder.MarkFailed(ctx, state.RunID, err)
		}
		log.Error().Err(err).Str("run_id", state.RunID).Msg("Stage failed")
		return err
	}

	log.Info().
		Str("run_id", state.RunID).
		Dur("elapsed", time.Since(start)).
		Msg("Stage completed")
	return nil
}

// LogSummary writes the end-of-run summary block.
func LogSummary(ctx context.Context, r *Report) {
	log := logger.FromContext(ctx)

	ev := log.Info().Str("batch_date", r.BatchDate.String())
	if v := r.Validation; v != nil {
		ev = ev.
			Int("total_records", v.TotalRecords).
			Int("valid_records", v.ValidRecords).
			Float64("rejection_rate_percent", v.RejectionRatePercent)
	}
	if t := r.Transformation; t != nil {
		ev = ev.
			Int("records_processed", t.RecordsProcessed).
			Int("columns_added", t.ColumnsAdded).
			Float64("total_revenue", t.TotalRevenue).
			Float64("avg_revenue", t.AvgRevenue)
	}
	ev.Msg("Pipeline run summary")
}
