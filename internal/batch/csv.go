package batch

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrMalformedCSV is returned when a batch cannot be decoded as CSV.
	ErrMalformedCSV = errors.New("malformed csv")

	// ErrAlreadyEnriched is returned when a batch handed to the transformation
	// stage already carries derived columns.
	ErrAlreadyEnriched = errors.New("batch is already enriched")
)

const utf8BOM = "\ufeff"

// DecodeTable parses CSV bytes into a Table. An empty input yields an empty
// table with no columns. Rows longer than the header are rejected; shorter
// rows are kept and their missing cells read as empty.
func DecodeTable(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("DecodeTable: reading header: %w: %v", ErrMalformedCSV, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	t := &Table{Columns: header}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("DecodeTable: %w: %v", ErrMalformedCSV, err)
		}
		if len(row) > len(header) {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("DecodeTable: line %d has %d fields, header has %d: %w",
				line, len(row), len(header), ErrMalformedCSV)
		}
		// A blank line is skipped by encoding/csv; a single empty field is not.
		if len(row) == 1 && row[0] == "" && len(header) > 1 {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// EncodeTable writes a Table as CSV.
func EncodeTable(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("EncodeTable: writing header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("EncodeTable: writing rows: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeRecords writes validated records with the RecordColumns header.
func EncodeRecords(records []Record) ([]byte, error) {
	t := &Table{Columns: RecordColumns, Rows: make([][]string, 0, len(records))}
	for _, rec := range records {
		t.Rows = append(t.Rows, recordCells(rec))
	}
	return EncodeTable(t)
}

// DecodeRecords parses a validated batch. Since the batch was produced by the
// validation stage, any unparseable cell is reported as ErrMalformedCSV rather
// than silently dropped. A header carrying derived columns yields
// ErrAlreadyEnriched.
func DecodeRecords(data []byte) ([]Record, error) {
	t, err := DecodeTable(data)
	if err != nil {
		return nil, err
	}
	for _, c := range t.Columns {
		if IsDerivedColumn(c) {
			return nil, fmt.Errorf("DecodeRecords: column %q present: %w", c, ErrAlreadyEnriched)
		}
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("DecodeRecords: missing header: %w", ErrMalformedCSV)
	}

	idx := make([]int, len(RecordColumns))
	for i, name := range RecordColumns {
		idx[i] = t.ColumnIndex(name)
		if idx[i] < 0 {
			return nil, fmt.Errorf("DecodeRecords: missing column %q: %w", name, ErrMalformedCSV)
		}
	}

	records := make([]Record, 0, len(t.Rows))
	for n, row := range t.Rows {
		qty, err := strconv.ParseInt(Cell(row, idx[4]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("DecodeRecords: row %d quantity: %w: %v", n+1, ErrMalformedCSV, err)
		}
		price, err := strconv.ParseFloat(Cell(row, idx[5]), 64)
		if err != nil {
			return nil, fmt.Errorf("DecodeRecords: row %d price: %w: %v", n+1, ErrMalformedCSV, err)
		}
		records = append(records, Record{
			TransactionID: Cell(row, idx[0]),
			Date:          Cell(row, idx[1]),
			Region:        Cell(row, idx[2]),
			Product:       Cell(row, idx[3]),
			Quantity:      qty,
			Price:         price,
			CustomerID:    Cell(row, idx[6]),
		})
	}
	return records, nil
}

// EncodeEnriched writes enriched records with the EnrichedColumns header.
func EncodeEnriched(records []EnrichedRecord) ([]byte, error) {
	t := &Table{Columns: EnrichedColumns, Rows: make([][]string, 0, len(records))}
	for _, rec := range records {
		row := recordCells(rec.Record)
		row = append(row,
			formatMoney(rec.Revenue),
			strconv.Itoa(rec.Year),
			strconv.Itoa(rec.Month),
			rec.MonthName,
			strconv.Itoa(rec.Quarter),
			strconv.Itoa(rec.DayOfWeek),
			rec.DayName,
			strconv.Itoa(rec.WeekOfYear),
			strconv.FormatBool(rec.IsBusinessDay),
			rec.RevenueCategory,
			rec.ProductCategory,
			rec.CustomerSegment,
			formatFloat(rec.PricePercentile),
			strconv.FormatBool(rec.IsHighValue),
			strconv.FormatBool(rec.IsBulkPurchase),
			formatFloat(rec.QuantityPercentile),
			formatMoney(rec.RegionalAvgRevenue),
			strconv.FormatBool(rec.AboveRegionalAvg),
		)
		t.Rows = append(t.Rows, row)
	}
	return EncodeTable(t)
}

// EncodeRegionSummaries writes the per-region rollup.
func EncodeRegionSummaries(summaries []RegionSummary) ([]byte, error) {
	t := &Table{
		Columns: []string{"region", "transactions", "total_revenue", "avg_revenue"},
		Rows:    make([][]string, 0, len(summaries)),
	}
	for _, s := range summaries {
		t.Rows = append(t.Rows, []string{
			s.Region,
			strconv.Itoa(s.Transactions),
			formatMoney(s.TotalRevenue),
			formatMoney(s.AvgRevenue),
		})
	}
	return EncodeTable(t)
}

func recordCells(rec Record) []string {
	return []string{
		rec.TransactionID,
		rec.Date,
		rec.Region,
		rec.Product,
		strconv.FormatInt(rec.Quantity, 10),
		formatFloat(rec.Price),
		rec.CustomerID,
	}
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
