package batch

import (
	"github.com/dvloznov/sales-etl/internal/rules"
)

// Table is a decoded CSV batch: a header row plus raw string cells.
// Rows may be shorter than Columns; missing trailing cells read as "".
type Table struct {
	Columns []string
	Rows    [][]string
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of name in the header, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Cell returns row[i] or "" when the row is short.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// RawRecord is one row after the schema check: every required column as
// an uncoerced string.
type RawRecord struct {
	TransactionID string
	Date          string
	Region        string
	Product       string
	Quantity      string
	Price         string
	CustomerID    string
}

// Field returns the raw value of a required column by name.
func (r RawRecord) Field(column string) string {
	switch column {
	case rules.ColTransactionID:
		return r.TransactionID
	case rules.ColDate:
		return r.Date
	case rules.ColRegion:
		return r.Region
	case rules.ColProduct:
		return r.Product
	case rules.ColQuantity:
		return r.Quantity
	case rules.ColPrice:
		return r.Price
	case rules.ColCustomerID:
		return r.CustomerID
	}
	return ""
}

// Record is a validated sales transaction.
type Record struct {
	TransactionID string
	Date          string // YYYY-MM-DD
	Region        string
	Product       string
	Quantity      int64
	Price         float64
	CustomerID    string
}

// EnrichedRecord is a validated record plus the derived business fields.
type EnrichedRecord struct {
	Record

	Revenue float64

	Year          int
	Month         int
	MonthName     string
	Quarter       int
	DayOfWeek     int // 0=Monday, 6=Sunday
	DayName       string
	WeekOfYear    int // ISO week
	IsBusinessDay bool

	RevenueCategory string
	ProductCategory string
	CustomerSegment string

	PricePercentile float64
	IsHighValue     bool

	IsBulkPurchase     bool
	QuantityPercentile float64

	RegionalAvgRevenue float64
	AboveRegionalAvg   bool
}

// RegionSummary is the per-region revenue rollup written to the aggregates zone.
type RegionSummary struct {
	Region       string
	Transactions int
	TotalRevenue float64
	AvgRevenue   float64
}

// Derived column names added by the transformation stage, in output order.
const (
	ColRevenue            = "revenue"
	ColYear               = "year"
	ColMonth              = "month"
	ColMonthName          = "month_name"
	ColQuarter            = "quarter"
	ColDayOfWeek          = "day_of_week"
	ColDayName            = "day_name"
	ColWeekOfYear         = "week_of_year"
	ColIsBusinessDay      = "is_business_day"
	ColRevenueCategory    = "revenue_category"
	ColProductCategory    = "product_category"
	ColCustomerSegment    = "customer_segment"
	ColPricePercentile    = "price_percentile"
	ColIsHighValue        = "is_high_value"
	ColIsBulkPurchase     = "is_bulk_purchase"
	ColQuantityPercentile = "quantity_percentile"
	ColRegionalAvgRevenue = "regional_avg_revenue"
	ColAboveRegionalAvg   = "above_regional_avg"
)

// DerivedColumns lists the enrichment columns in the order they are added.
var DerivedColumns = []string{
	ColRevenue,
	ColYear,
	ColMonth,
	ColMonthName,
	ColQuarter,
	ColDayOfWeek,
	ColDayName,
	ColWeekOfYear,
	ColIsBusinessDay,
	ColRevenueCategory,
	ColProductCategory,
	ColCustomerSegment,
	ColPricePercentile,
	ColIsHighValue,
	ColIsBulkPurchase,
	ColQuantityPercentile,
	ColRegionalAvgRevenue,
	ColAboveRegionalAvg,
}

// RecordColumns is the header of a validated batch.
var RecordColumns = []string{
	rules.ColTransactionID,
	rules.ColDate,
	rules.ColRegion,
	rules.ColProduct,
	rules.ColQuantity,
	rules.ColPrice,
	rules.ColCustomerID,
}

// EnrichedColumns is the header of an enriched batch.
var EnrichedColumns = append(append([]string{}, RecordColumns...), DerivedColumns...)

// IsDerivedColumn reports whether name is one of the enrichment columns.
func IsDerivedColumn(name string) bool {
	for _, c := range DerivedColumns {
		if c == name {
			return true
		}
	}
	return false
}
