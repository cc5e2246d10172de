package runlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/sales-etl/internal/logger"
	"github.com/google/uuid"
)

// MemoryRecorder is an in-memory Recorder, safe for concurrent use. It backs
// the local storage mode and tests.
type MemoryRecorder struct {
	mu   sync.RWMutex
	runs map[string]*Run
	now  func() time.Time
}

// NewMemoryRecorder creates an empty ledger.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{runs: make(map[string]*Run), now: time.Now}
}

func (r *MemoryRecorder) Start(ctx context.Context, stage Stage, batchDate civil.Date) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.runs[id] = &Run{
		RunID:     id,
		Stage:     stage,
		BatchDate: batchDate,
		StartedAt: r.now(),
		Status:    StatusRunning,
	}
	return id, nil
}

func (r *MemoryRecorder) MarkFailed(ctx context.Context, runID string, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		log := logger.FromContext(ctx)
		log.Error().Str("run_id", runID).Msg("MarkFailed: unknown run")
		return
	}
	run.Status = StatusFailed
	run.FinishedAt = r.now()
	run.ErrorMessage = errorMessage(runErr)
}

func (r *MemoryRecorder) MarkSucceeded(ctx context.Context, runID string, report any) error {
	data, err := marshalReport(report)
	if err != nil {
		return fmt.Errorf("MemoryRecorder.MarkSucceeded: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("MemoryRecorder.MarkSucceeded: run not found: %s", runID)
	}
	run.Status = StatusSuccess
	run.FinishedAt = r.now()
	run.ErrorMessage = ""
	run.Metrics = data
	return nil
}

func (r *MemoryRecorder) List(ctx context.Context, batchDate civil.Date, limit int) ([]Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Run
	for _, run := range r.runs {
		if batchDate != (civil.Date{}) && run.BatchDate != batchDate {
			continue
		}
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
