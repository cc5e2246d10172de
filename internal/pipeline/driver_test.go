package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/sales-etl/internal/batch"
	"github.com/dvloznov/sales-etl/internal/blobstore"
	"github.com/dvloznov/sales-etl/internal/logger"
	"github.com/dvloznov/sales-etl/internal/metrics"
	"github.com/dvloznov/sales-etl/internal/rules"
	"github.com/dvloznov/sales-etl/internal/runlog"
	"github.com/dvloznov/sales-etl/internal/transform"
	"github.com/dvloznov/sales-etl/internal/validate"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var batchDate = civil.Date{Year: 2024, Month: time.January, Day: 15}

const rawBatch = `transaction_id,date,region,product,quantity,price,customer_id
T1,2024-01-15,North,Laptop,2,500.00,C1
T1,2024-01-15,North,Laptop,2,500.00,C1
T2,2024-01-15,South,Cable,1,10.00,C2
`

type fixture struct {
	store    *blobstore.MemoryStore
	recorder *runlog.MemoryRecorder
	metrics  *metrics.Registry
	driver   *Driver
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    blobstore.NewMemoryStore(),
		recorder: runlog.NewMemoryRecorder(),
		metrics:  metrics.New(),
		ctx:      logger.WithContext(context.Background(), zerolog.Nop()),
	}
	f.driver = NewDriver(f.store, f.recorder, f.metrics, rules.Default())
	return f
}

func (f *fixture) put(t *testing.T, zone, data string) {
	t.Helper()
	require.NoError(t, f.store.Put(f.ctx, blobstore.Key(zone, batchDate.String()), []byte(data)))
}

func (f *fixture) get(t *testing.T, key string) string {
	t.Helper()
	data, err := f.store.Get(f.ctx, key)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) runs(t *testing.T) []runlog.Run {
	t.Helper()
	runs, err := f.recorder.List(f.ctx, batchDate, 0)
	require.NoError(t, err)
	return runs
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.put(t, blobstore.RawZone, rawBatch)

	report, err := f.driver.Run(f.ctx, batchDate)
	require.NoError(t, err)

	require.NotNil(t, report.Validation)
	assert.Equal(t, 3, report.Validation.TotalRecords)
	assert.Equal(t, 2, report.Validation.ValidRecords)
	assert.Equal(t, 1, report.Validation.DuplicatesRemoved)

	require.NotNil(t, report.Transformation)
	assert.Equal(t, 2, report.Transformation.RecordsProcessed)
	assert.Equal(t, 1010.0, report.Transformation.TotalRevenue)

	processed, err := batch.DecodeTable([]byte(f.get(t, "processed-zone/2024-01-15.csv")))
	require.NoError(t, err)
	assert.Equal(t, batch.EnrichedColumns, processed.Columns)
	require.Equal(t, 2, processed.Len())
	assert.Equal(t, "1000.00", batch.Cell(processed.Rows[0], processed.ColumnIndex(batch.ColRevenue)))
	assert.Equal(t, "Accessories", batch.Cell(processed.Rows[1], processed.ColumnIndex(batch.ColProductCategory)))

	assert.Equal(t,
		"region,transactions,total_revenue,avg_revenue\nNorth,1,1000.00,1000.00\nSouth,1,10.00,10.00\n",
		f.get(t, "aggregates-zone/2024-01-15_regions.csv"))

	assert.Equal(t, rawBatch, f.get(t, "raw-zone/2024-01-15.csv"), "raw zone is never modified")

	runs := f.runs(t)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, runlog.StatusSuccess, r.Status)
		assert.NotEmpty(t, r.Metrics)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageRuns.WithLabelValues("validation", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageRuns.WithLabelValues("transformation", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejections.WithLabelValues("duplicate")))
}

func TestRunValidation_WritesCleanBatch(t *testing.T) {
	f := newFixture(t)
	f.put(t, blobstore.RawZone, rawBatch)

	m, err := f.driver.RunValidation(f.ctx, batchDate)
	require.NoError(t, err)
	assert.Equal(t, 33.33, m.RejectionRatePercent)

	records, err := batch.DecodeRecords([]byte(f.get(t, "processed-zone/2024-01-15.csv")))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "T1", records[0].TransactionID)
	assert.Equal(t, "T2", records[1].TransactionID)
}

func TestRunTransformation_RejectsEnrichedInput(t *testing.T) {
	f := newFixture(t)
	f.put(t, blobstore.RawZone, rawBatch)
	_, err := f.driver.Run(f.ctx, batchDate)
	require.NoError(t, err)
	before := f.get(t, "processed-zone/2024-01-15.csv")

	_, err = f.driver.RunTransformation(f.ctx, batchDate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, batch.ErrAlreadyEnriched))

	assert.Equal(t, before, f.get(t, "processed-zone/2024-01-15.csv"))

	var failed int
	for _, r := range f.runs(t) {
		if r.Status == runlog.StatusFailed {
			failed++
			assert.Equal(t, runlog.StageTransformation, r.Stage)
			assert.Contains(t, r.ErrorMessage, "already enriched")
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageRuns.WithLabelValues("transformation", "failure")))
}

func TestRunValidation_MissingRawBatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.driver.RunValidation(f.ctx, batchDate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, blobstore.ErrNotFound))
	assert.Empty(t, f.store.Keys())

	runs := f.runs(t)
	require.Len(t, runs, 1)
	assert.Equal(t, runlog.StatusFailed, runs[0].Status)
}

func TestRunValidation_SchemaError(t *testing.T) {
	f := newFixture(t)
	f.put(t, blobstore.RawZone, "transaction_id,date,region\nT1,2024-01-15,North\n")

	m, err := f.driver.RunValidation(f.ctx, batchDate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, validate.ErrSchema))
	require.NotNil(t, m)
	assert.Equal(t, 1, m.SchemaErrors)

	assert.Equal(t, []string{"raw-zone/2024-01-15.csv"}, f.store.Keys(), "nothing written on failure")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejections.WithLabelValues("schema")))
}

func TestRunValidation_WriteDenied(t *testing.T) {
	f := newFixture(t)
	f.put(t, blobstore.RawZone, rawBatch)
	f.store.Deny("processed-zone/2024-01-15.csv")

	_, err := f.driver.RunValidation(f.ctx, batchDate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, blobstore.ErrAccessDenied))

	runs := f.runs(t)
	require.Len(t, runs, 1)
	assert.Equal(t, runlog.StatusFailed, runs[0].Status)
}

func TestRunTransformation_ComputationErrorWritesNothing(t *testing.T) {
	f := newFixture(t)
	validated := strings.Join(batch.RecordColumns, ",") + "\nT1,2024-13-45,North,Laptop,2,500,C1\n"
	f.put(t, blobstore.ProcessedZone, validated)

	m, err := f.driver.RunTransformation(f.ctx, batchDate)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, transform.ErrComputation))

	assert.Equal(t, validated, f.get(t, "processed-zone/2024-01-15.csv"))
	_, err = f.store.Get(f.ctx, "aggregates-zone/2024-01-15_regions.csv")
	assert.True(t, errors.Is(err, blobstore.ErrNotFound))
}

// flakyStore fails the first Put of key and passes everything else through.
type flakyStore struct {
	blobstore.Store
	key    string
	failed bool
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	if key == s.key && !s.failed {
		s.failed = true
		return blobstore.ErrWriteFailure
	}
	return s.Store.Put(ctx, key, data)
}

func TestRunTransformation_AggregatesWriteFailureCanBeRetried(t *testing.T) {
	f := newFixture(t)
	f.put(t, blobstore.RawZone, rawBatch)
	_, err := f.driver.RunValidation(f.ctx, batchDate)
	require.NoError(t, err)
	validated := f.get(t, "processed-zone/2024-01-15.csv")

	flaky := &flakyStore{Store: f.store, key: "aggregates-zone/2024-01-15_regions.csv"}
	driver := NewDriver(flaky, f.recorder, f.metrics, rules.Default())

	_, err = driver.RunTransformation(f.ctx, batchDate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, blobstore.ErrWriteFailure))
	assert.Equal(t, validated, f.get(t, "processed-zone/2024-01-15.csv"), "stage input left in place")

	m, err := driver.RunTransformation(f.ctx, batchDate)
	require.NoError(t, err)
	assert.Equal(t, 2, m.RecordsProcessed)

	processed, err := batch.DecodeTable([]byte(f.get(t, "processed-zone/2024-01-15.csv")))
	require.NoError(t, err)
	assert.Equal(t, batch.EnrichedColumns, processed.Columns)
	assert.NotEmpty(t, f.get(t, "aggregates-zone/2024-01-15_regions.csv"))
}

func TestRun_EmptyBatch(t *testing.T) {
	f := newFixture(t)
	f.put(t, blobstore.RawZone, strings.Join(batch.RecordColumns, ",")+"\n")

	report, err := f.driver.Run(f.ctx, batchDate)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Validation.TotalRecords)
	assert.Equal(t, 0.0, report.Validation.RejectionRatePercent)
	assert.Equal(t, 0, report.Transformation.RecordsProcessed)
}

func TestRun_StopsAfterValidationFailure(t *testing.T) {
	f := newFixture(t)

	report, err := f.driver.Run(f.ctx, batchDate)
	require.Error(t, err)
	assert.Nil(t, report.Transformation)
	assert.Len(t, f.runs(t), 1)
}

type failingRecorder struct {
	*runlog.MemoryRecorder
	markedFailed int
}

func (r *failingRecorder) Start(ctx context.Context, stage runlog.Stage, date civil.Date) (string, error) {
	return "", errors.New("ledger unavailable")
}

func (r *failingRecorder) MarkFailed(ctx context.Context, runID string, runErr error) {
	r.markedFailed++
}

func TestRunValidation_LedgerStartFailure(t *testing.T) {
	f := newFixture(t)
	f.put(t, blobstore.RawZone, rawBatch)
	rec := &failingRecorder{MemoryRecorder: runlog.NewMemoryRecorder()}
	d := NewDriver(f.store, rec, nil, rules.Default())

	_, err := d.RunValidation(f.ctx, batchDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger unavailable")
	assert.Equal(t, 0, rec.markedFailed, "no run id to mark")
	assert.Equal(t, []string{"raw-zone/2024-01-15.csv"}, f.store.Keys())
}

func TestParseBatchDate(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))

	d, err := parseBatchDate("", now)
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 10}, d, "today is taken in UTC")

	d, err = parseBatchDate("2024-01-15", now)
	require.NoError(t, err)
	assert.Equal(t, batchDate, d)

	_, err = parseBatchDate("15/01/2024", now)
	assert.Error(t, err)
	_, err = parseBatchDate("2024-02-30", now)
	assert.Error(t, err)
}
