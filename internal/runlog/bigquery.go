package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/sales-etl/internal/logger"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// RunsTable is the ledger table name inside the dataset.
const RunsTable = "pipeline_runs"

// RunRow mirrors a row of pipeline_runs.
type RunRow struct {
	RunID     string     `bigquery:"run_id"`     // REQUIRED
	Stage     string     `bigquery:"stage"`      // REQUIRED
	BatchDate civil.Date `bigquery:"batch_date"` // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string              `bigquery:"status"`        // NULLABLE
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE

	Metrics bigquery.NullJSON `bigquery:"metrics"` // NULLABLE
}

func (r RunRow) toRun() Run {
	run := Run{
		RunID:        r.RunID,
		Stage:        Stage(r.Stage),
		BatchDate:    r.BatchDate,
		StartedAt:    r.StartedTS,
		Status:       r.Status,
		ErrorMessage: r.ErrorMessage.StringVal,
	}
	if r.FinishedTS.Valid {
		run.FinishedAt = r.FinishedTS.Timestamp
	}
	if r.Metrics.Valid {
		run.Metrics = json.RawMessage(r.Metrics.JSONVal)
	}
	return run
}

// BigQueryRecorder writes the ledger to <project>.<dataset>.pipeline_runs
// using DML statements.
type BigQueryRecorder struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewBigQueryRecorder creates a recorder with its own client.
func NewBigQueryRecorder(ctx context.Context, project, dataset string) (*BigQueryRecorder, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRecorder: creating client: %w", err)
	}
	return NewBigQueryRecorderWithClient(client, dataset), nil
}

// NewBigQueryRecorderWithClient shares an existing client.
func NewBigQueryRecorderWithClient(client *bigquery.Client, dataset string) *BigQueryRecorder {
	return &BigQueryRecorder{client: client, project: client.Project(), dataset: dataset}
}

// Close closes the BigQuery client connection.
func (r *BigQueryRecorder) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *BigQueryRecorder) table() string {
	return fmt.Sprintf("`%s.%s.%s`", r.project, r.dataset, RunsTable)
}

// exec runs a DML statement and waits for it to finish.
func (r *BigQueryRecorder) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := r.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

// Start inserts a new row with status=RUNNING and returns the generated run_id.
func (r *BigQueryRecorder) Start(ctx context.Context, stage Stage, batchDate civil.Date) (string, error) {
	runID := uuid.NewString()

	err := r.exec(ctx, fmt.Sprintf(`
		INSERT %s (
			run_id,
			stage,
			batch_date,
			started_ts,
			status
		)
		VALUES (
			@run_id,
			@stage,
			@batch_date,
			@started_ts,
			@status
		)
	`, r.table()), []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "stage", Value: string(stage)},
		{Name: "batch_date", Value: batchDate},
		{Name: "started_ts", Value: time.Now()},
		{Name: "status", Value: StatusRunning},
	})
	if err != nil {
		return "", fmt.Errorf("BigQueryRecorder.Start: %w", err)
	}
	return runID, nil
}

// MarkFailed sets status=FAILED, finished_ts and error_message.
func (r *BigQueryRecorder) MarkFailed(ctx context.Context, runID string, runErr error) {
	log := logger.FromContext(ctx)

	err := r.exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, r.table()), []bigquery.QueryParameter{
		{Name: "status", Value: StatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errorMessage(runErr)},
		{Name: "run_id", Value: runID},
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkFailed: updating run ledger")
	}
}

// MarkSucceeded sets status=SUCCESS, finished_ts and the metrics JSON, and
// clears error_message.
func (r *BigQueryRecorder) MarkSucceeded(ctx context.Context, runID string, report any) error {
	data, err := marshalReport(report)
	if err != nil {
		return fmt.Errorf("BigQueryRecorder.MarkSucceeded: %w", err)
	}

	err = r.exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = "",
		    metrics = SAFE.PARSE_JSON(@metrics)
		WHERE run_id = @run_id
	`, r.table()), []bigquery.QueryParameter{
		{Name: "status", Value: StatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "metrics", Value: bigquery.NullString{StringVal: string(data), Valid: data != nil}},
		{Name: "run_id", Value: runID},
	})
	if err != nil {
		return fmt.Errorf("BigQueryRecorder.MarkSucceeded: %w", err)
	}
	return nil
}

// List reads ledger rows, newest first.
func (r *BigQueryRecorder) List(ctx context.Context, batchDate civil.Date, limit int) ([]Run, error) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if batchDate != (civil.Date{}) {
		where = append(where, "batch_date = @batch_date")
		params = append(params, bigquery.QueryParameter{Name: "batch_date", Value: batchDate})
	}

	query := fmt.Sprintf(`
		SELECT
			run_id,
			stage,
			batch_date,
			started_ts,
			finished_ts,
			status,
			error_message,
			metrics
		FROM %s`, r.table())
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY started_ts DESC"
	if limit > 0 {
		query += "\n\t\tLIMIT @limit"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: limit})
	}

	q := r.client.Query(query)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("BigQueryRecorder.List: reading query: %w", err)
	}

	var runs []Run
	for {
		var row RunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("BigQueryRecorder.List: iterating: %w", err)
		}
		runs = append(runs, row.toRun())
	}
	return runs, nil
}
