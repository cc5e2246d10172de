package batch

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTable(t *testing.T) {
	data := "\ufefftransaction_id,date,region\nT1,2024-01-01,North\nT2,2024-01-02\n"

	tbl, err := DecodeTable([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"transaction_id", "date", "region"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "North", Cell(tbl.Rows[0], 2))
	assert.Equal(t, "", Cell(tbl.Rows[1], 2), "short rows read missing cells as empty")
}

func TestDecodeTable_Empty(t *testing.T) {
	tbl, err := DecodeTable(nil)
	require.NoError(t, err)
	assert.Empty(t, tbl.Columns)
	assert.Equal(t, 0, tbl.Len())
}

func TestDecodeTable_TooManyFields(t *testing.T) {
	_, err := DecodeTable([]byte("a,b\n1,2,3\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedCSV))
}

func TestRecordsRoundTrip(t *testing.T) {
	in := []Record{
		{TransactionID: "T1", Date: "2024-01-01", Region: "North", Product: "Laptop", Quantity: 2, Price: 500, CustomerID: "C1"},
		{TransactionID: "T2", Date: "2024-01-02", Region: "West", Product: "Cable", Quantity: 5, Price: 2.5, CustomerID: "C2"},
	}

	data, err := EncodeRecords(in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), strings.Join(RecordColumns, ",")+"\n"))

	out, err := DecodeRecords(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRecords_RejectsEnrichedBatch(t *testing.T) {
	enriched := []EnrichedRecord{{
		Record:  Record{TransactionID: "T1", Date: "2024-01-01", Region: "North", Product: "Laptop", Quantity: 2, Price: 500, CustomerID: "C1"},
		Revenue: 1000,
	}}
	data, err := EncodeEnriched(enriched)
	require.NoError(t, err)

	_, err = DecodeRecords(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyEnriched))
}

func TestDecodeRecords_BadCell(t *testing.T) {
	data := strings.Join(RecordColumns, ",") + "\nT1,2024-01-01,North,Laptop,two,500,C1\n"

	_, err := DecodeRecords([]byte(data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedCSV))
}

func TestEncodeEnriched_Header(t *testing.T) {
	data, err := EncodeEnriched(nil)
	require.NoError(t, err)

	tbl, err := DecodeTable(data)
	require.NoError(t, err)
	assert.Equal(t, EnrichedColumns, tbl.Columns)
	assert.Len(t, DerivedColumns, 18)
}

func TestEncodeRegionSummaries(t *testing.T) {
	data, err := EncodeRegionSummaries([]RegionSummary{
		{Region: "North", Transactions: 2, TotalRevenue: 1010, AvgRevenue: 505},
	})
	require.NoError(t, err)
	assert.Equal(t, "region,transactions,total_revenue,avg_revenue\nNorth,2,1010.00,505.00\n", string(data))
}
