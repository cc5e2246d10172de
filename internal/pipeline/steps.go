package pipeline

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/sales-etl/internal/batch"
	"github.com/dvloznov/sales-etl/internal/blobstore"
	"github.com/dvloznov/sales-etl/internal/logger"
	"github.com/dvloznov/sales-etl/internal/runlog"
	"github.com/dvloznov/sales-etl/internal/transform"
	"github.com/dvloznov/sales-etl/internal/validate"
)

// PipelineStep represents a single step of a stage run.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// Output is an object a stage writes once every computation has succeeded.
type Output struct {
	Key  string
	Data []byte
}

// PipelineState holds the shared state across the steps of one stage run.
type PipelineState struct {
	Stage     runlog.Stage
	BatchDate civil.Date
	RunID     string

	Input    []byte
	Table    *batch.Table
	Records  []batch.Record
	Enriched []batch.EnrichedRecord

	ValidationMetrics *validate.Metrics
	TransformMetrics  *transform.Metrics

	Outputs []Output
}

// Report returns the stage report collected so far, or nil.
func (s *PipelineState) Report() any {
	switch {
	case s.ValidationMetrics != nil:
		return s.ValidationMetrics
	case s.TransformMetrics != nil:
		return s.TransformMetrics
	}
	return nil
}

// StartRunStep inserts a RUNNING ledger row.
type StartRunStep struct {
	Recorder runlog.Recorder
}

func (s *StartRunStep) Execute(ctx context.Context, state *PipelineState) error {
	runID, err := s.Recorder.Start(ctx, state.Stage, state.BatchDate)
	if err != nil {
		return err
	}
	state.RunID = runID
	return nil
}

// FetchStep reads the stage input from the store.
type FetchStep struct {
	Store blobstore.Store
	Zone  string
}

func (s *FetchStep) Execute(ctx context.Context, state *PipelineState) error {
	key := blobstore.Key(s.Zone, state.BatchDate.String())
	data, err := s.Store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", key, err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("key", key).Int("bytes", len(data)).Msg("Fetched batch")
	state.Input = data
	return nil
}

// DecodeTableStep parses the raw batch without assuming a schema.
type DecodeTableStep struct{}

func (s *DecodeTableStep) Execute(ctx context.Context, state *PipelineState) error {
	t, err := batch.DecodeTable(state.Input)
	if err != nil {
		return err
	}
	state.Table = t
	return nil
}

// DecodeRecordsStep parses a validated batch. Batches that already carry the
// derived columns are rejected.
type DecodeRecordsStep struct{}

func (s *DecodeRecordsStep) Execute(ctx context.Context, state *PipelineState) error {
	records, err := batch.DecodeRecords(state.Input)
	if err != nil {
		return err
	}
	state.Records = records
	return nil
}

// ValidateStep runs the cleaning rules. The report is kept even when the
// schema check fails.
type ValidateStep struct {
	Validator *validate.Validator
}

func (s *ValidateStep) Execute(ctx context.Context, state *PipelineState) error {
	records, m, err := s.Validator.Validate(state.Table)
	state.ValidationMetrics = &m
	if err != nil {
		return err
	}
	state.Records = records
	return nil
}

// TransformStep derives the enrichment columns.
type TransformStep struct {
	Transformer *transform.Transformer
}

func (s *TransformStep) Execute(ctx context.Context, state *PipelineState) error {
	enriched, m, err := s.Transformer.Transform(state.Records)
	if err != nil {
		return err
	}
	state.Enriched = enriched
	state.TransformMetrics = &m
	return nil
}

// EncodeValidatedStep queues the clean batch for the processed zone.
type EncodeValidatedStep struct{}

func (s *EncodeValidatedStep) Execute(ctx context.Context, state *PipelineState) error {
	data, err := batch.EncodeRecords(state.Records)
	if err != nil {
		return err
	}
	state.Outputs = append(state.Outputs, Output{
		Key:  blobstore.Key(blobstore.ProcessedZone, state.BatchDate.String()),
		Data: data,
	})
	return nil
}

// EncodeEnrichedStep queues the regional summary for the aggregates zone and
// the enriched batch, which replaces the validated batch in the processed
// zone. The replacement is queued last: once it lands the stage input is gone,
// so every other write must already have succeeded.
type EncodeEnrichedStep struct{}

func (s *EncodeEnrichedStep) Execute(ctx context.Context, state *PipelineState) error {
	data, err := batch.EncodeEnriched(state.Enriched)
	if err != nil {
		return err
	}
	var regions []batch.RegionSummary
	if state.TransformMetrics != nil {
		regions = state.TransformMetrics.Regions
	}
	summary, err := batch.EncodeRegionSummaries(regions)
	if err != nil {
		return err
	}

	date := state.BatchDate.String()
	state.Outputs = append(state.Outputs,
		Output{Key: blobstore.Key(blobstore.AggregatesZone, date+"_regions"), Data: summary},
		Output{Key: blobstore.Key(blobstore.ProcessedZone, date), Data: data},
	)
	return nil
}

// PersistStep writes the queued outputs in order.
type PersistStep struct {
	Store blobstore.Store
}

func (s *PersistStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	for _, out := range state.Outputs {
		if err := s.Store.Put(ctx, out.Key, out.Data); err != nil {
			return fmt.Errorf("persist %s: %w", out.Key, err)
		}
		log.Info().Str("key", out.Key).Int("bytes", len(out.Data)).Msg("Saved batch")
	}
	return nil
}

// MarkSuccessStep marks the ledger row as SUCCESS with the stage report.
type MarkSuccessStep struct {
	Recorder runlog.Recorder
}

func (s *MarkSuccessStep) Execute(ctx context.Context, state *PipelineState) error {
	return s.Recorder.MarkSucceeded(ctx, state.RunID, state.Report())
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
