package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dvloznov/sales-etl/internal/blobstore"
	"github.com/dvloznov/sales-etl/internal/config"
	"github.com/dvloznov/sales-etl/internal/logger"
	"github.com/dvloznov/sales-etl/internal/metrics"
	"github.com/dvloznov/sales-etl/internal/pipeline"
	"github.com/dvloznov/sales-etl/internal/runlog"
	"github.com/rs/zerolog"
)

// app holds the dependencies built from configuration for one invocation.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    blobstore.Store
	recorder runlog.Recorder
	metrics  *metrics.Registry
	driver   *pipeline.Driver
	closers  []io.Closer
}

func newApp(ctx context.Context, cfgFile string, verbose bool, out io.Writer) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	log, err := logger.NewWithLevel(out, level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, fmt.Errorf("building rule catalog: %w", err)
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	switch cfg.Storage.Backend {
	case config.BackendGCS:
		bucket, prefix, err := cfg.Storage.GCSLocation()
		if err != nil {
			return nil, err
		}
		gcs, err := blobstore.NewGCSStore(ctx, bucket, prefix)
		if err != nil {
			return nil, err
		}
		a.store = gcs
		a.closers = append(a.closers, gcs)
	case config.BackendLocal:
		a.store = blobstore.NewLocalStore(cfg.Storage.Dir)
	default:
		a.store = blobstore.NewMemoryStore()
	}

	if cfg.BigQuery.Enabled {
		rec, err := runlog.NewBigQueryRecorder(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.recorder = rec
		a.closers = append(a.closers, rec)
	} else {
		a.recorder = runlog.NewMemoryRecorder()
	}

	a.driver = pipeline.NewDriver(a.store, a.recorder, a.metrics, catalog)

	log.Debug().
		Str("storage_backend", cfg.Storage.Backend).
		Bool("bigquery_ledger", cfg.BigQuery.Enabled).
		Msg("Configuration loaded")

	return a, nil
}

// pushMetrics sends the run metrics to the Pushgateway when one is configured.
func (a *app) pushMetrics(ctx context.Context) {
	if err := a.metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
		a.log.Warn().Err(err).Msg("Metrics push failed")
	}
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Closing client")
		}
	}
}
