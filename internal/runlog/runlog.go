// Package runlog records one ledger row per pipeline stage execution.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageValidation     Stage = "VALIDATION"
	StageTransformation Stage = "TRANSFORMATION"
)

// Run statuses.
const (
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

const maxErrorLen = 2000

// Run is one ledger entry.
type Run struct {
	RunID        string
	Stage        Stage
	BatchDate    civil.Date
	StartedAt    time.Time
	FinishedAt   time.Time // zero while running
	Status       string
	ErrorMessage string
	Metrics      json.RawMessage
}

// Recorder provides an interface for the run ledger.
// This interface enables mocking the BigQuery-backed ledger in tests.
type Recorder interface {
	// Start inserts a RUNNING row and returns its run id.
	Start(ctx context.Context, stage Stage, batchDate civil.Date) (string, error)

	// MarkFailed sets status=FAILED with the error message. Ledger errors are
	// logged, not returned, so they never mask runErr.
	MarkFailed(ctx context.Context, runID string, runErr error)

	// MarkSucceeded sets status=SUCCESS and stores report as JSON.
	MarkSucceeded(ctx context.Context, runID string, report any) error

	// List returns the most recent runs first. A zero batchDate lists every
	// date; limit <= 0 means no limit.
	List(ctx context.Context, batchDate civil.Date, limit int) ([]Run, error)
}

// errorMessage truncates err for storage.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

func marshalReport(report any) ([]byte, error) {
	if report == nil {
		return nil, nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal run report: %w", err)
	}
	return data, nil
}
