// Package metrics exports pipeline run metrics to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/sales-etl/internal/transform"
	"github.com/dvloznov/sales-etl/internal/validate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds the pipeline collectors on a private prometheus.Registry.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	StageRuns      *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	Records        *prometheus.CounterVec
	Rejections     *prometheus.CounterVec
	RejectionRate  prometheus.Gauge
	BatchRevenue   prometheus.Gauge
	RegionRevenue  *prometheus.GaugeVec
	LastSuccessful *prometheus.GaugeVec
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		reg: reg,

		StageRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_etl_stage_runs_total",
			Help: "Pipeline stage executions by stage and outcome",
		}, []string{"stage", "status"}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sales_etl_stage_duration_seconds",
			Help:    "Wall-clock duration of a pipeline stage including storage I/O",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),

		Records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_etl_records_total",
			Help: "Records seen by each stage, by outcome",
		}, []string{"stage", "outcome"}), // outcome: "input", "valid", "rejected", "enriched"

		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_etl_rejections_total",
			Help: "Records removed during validation, by reason",
		}, []string{"reason"}),

		RejectionRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "sales_etl_rejection_rate_percent",
			Help: "Rejection rate of the last validated batch",
		}),

		BatchRevenue: f.NewGauge(prometheus.GaugeOpts{
			Name: "sales_etl_batch_revenue",
			Help: "Total revenue of the last transformed batch",
		}),

		RegionRevenue: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sales_etl_region_revenue",
			Help: "Total revenue per region of the last transformed batch",
		}, []string{"region"}),

		LastSuccessful: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sales_etl_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per stage",
		}, []string{"stage"}),
	}
}

// ObserveStage records one stage execution.
func (r *Registry) ObserveStage(stage string, d time.Duration, err error) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	} else {
		r.LastSuccessful.WithLabelValues(stage).SetToCurrentTime()
	}
	r.StageRuns.WithLabelValues(stage, status).Inc()
	r.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveValidation records the counters of a validation report.
func (r *Registry) ObserveValidation(m validate.Metrics) {
	if r == nil {
		return
	}
	r.Records.WithLabelValues("validation", "input").Add(float64(m.TotalRecords))
	r.Records.WithLabelValues("validation", "valid").Add(float64(m.ValidRecords))
	r.Records.WithLabelValues("validation", "rejected").Add(float64(m.Rejected()))

	for reason, n := range map[string]int{
		"duplicate":        m.DuplicatesRemoved,
		"null":             m.NullsRemoved,
		"type":             m.TypeErrors,
		"date":             m.InvalidDates,
		"invalid_quantity": m.InvalidQuantity,
		"invalid_price":    m.InvalidPrice,
		"invalid_region":   m.InvalidRegion,
		"schema":           m.SchemaErrors,
	} {
		r.Rejections.WithLabelValues(reason).Add(float64(n))
	}
	r.RejectionRate.Set(m.RejectionRatePercent)
}

// ObserveTransformation records the figures of a transformation report.
func (r *Registry) ObserveTransformation(m transform.Metrics) {
	if r == nil {
		return
	}
	r.Records.WithLabelValues("transformation", "enriched").Add(float64(m.RecordsProcessed))
	r.BatchRevenue.Set(m.TotalRevenue)

	r.RegionRevenue.Reset()
	for _, region := range m.Regions {
		r.RegionRevenue.WithLabelValues(region.Region).Set(region.TotalRevenue)
	}
}

// Push sends every collector to a Prometheus Pushgateway under job.
func (r *Registry) Push(ctx context.Context, url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("Push: pushing to %s: %w", url, err)
	}
	return nil
}
