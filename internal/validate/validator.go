package validate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/sales-etl/internal/batch"
	"github.com/dvloznov/sales-etl/internal/rules"
	"github.com/rs/zerolog"
)

// ErrSchema is the sentinel wrapped by SchemaError.
var ErrSchema = errors.New("schema validation failed")

// SchemaError reports required columns absent from a raw batch. It aborts
// the run before any rule processing.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

// Metrics is the validation run report.
type Metrics struct {
	TotalRecords           int     `json:"total_records"`
	ValidRecords           int     `json:"valid_records"`
	DuplicatesRemoved      int     `json:"duplicates_removed"`
	NullsRemoved           int     `json:"null_values_removed"`
	TypeErrors             int     `json:"type_errors"`
	InvalidDates           int     `json:"invalid_dates"`
	InvalidQuantity        int     `json:"invalid_quantity"`
	InvalidPrice           int     `json:"invalid_price"`
	InvalidRegion          int     `json:"invalid_region"`
	BusinessRuleRejections int     `json:"business_rule_rejections"`
	SchemaErrors           int     `json:"schema_errors"`
	RejectionRatePercent   float64 `json:"rejection_rate_percent"`
	ProcessingTimeSeconds  float64 `json:"processing_time_seconds"`
}

// Rejected returns the number of input records that did not survive validation.
func (m Metrics) Rejected() int {
	return m.TotalRecords - m.ValidRecords
}

// RejectionRate returns (total-valid)/total*100 rounded to two decimals, or 0
// for an empty batch.
func RejectionRate(total, valid int) float64 {
	if total == 0 {
		return 0
	}
	return batch.Round(float64(total-valid)/float64(total)*100, 2)
}

// candidate is a row moving through the rule chain. Typed fields are filled
// in by the coercion and date rules.
type candidate struct {
	raw      batch.RawRecord
	quantity int64
	price    float64
	date     string
}

// Rule is one cleaning step. It receives the survivors of the previous rule
// and returns its own survivors, recording rejections in m.
type Rule struct {
	Name  string
	apply func(rows []candidate, m *Metrics) []candidate
}

// Validator applies the ordered cleaning rules of a catalog to raw batches.
type Validator struct {
	catalog rules.Catalog
	log     zerolog.Logger
	rules   []Rule
}

// New creates a Validator for the given catalog.
func New(catalog rules.Catalog, log zerolog.Logger) *Validator {
	v := &Validator{catalog: catalog, log: log}
	v.rules = []Rule{
		{Name: "remove_duplicates", apply: v.removeDuplicates},
		{Name: "remove_nulls", apply: v.removeNulls},
		{Name: "coerce_types", apply: v.coerceTypes},
		{Name: "normalize_dates", apply: v.normalizeDates},
		{Name: "business_rules", apply: v.applyBusinessRules},
	}
	return v
}

// Rules returns the names of the rules run after the schema check, in order.
func (v *Validator) Rules() []string {
	names := make([]string, len(v.rules))
	for i, r := range v.rules {
		names[i] = r.Name
	}
	return names
}

// Validate runs the schema check followed by every rule and returns the
// clean records. The only error it returns is a *SchemaError; data-quality
// rejections are reported through Metrics.
func (v *Validator) Validate(t *batch.Table) ([]batch.Record, Metrics, error) {
	start := time.Now()
	m := Metrics{TotalRecords: t.Len()}

	v.log.Info().Int("records", m.TotalRecords).Msg("Starting validation")

	rows, err := v.checkSchema(t)
	if err != nil {
		m.SchemaErrors = 1
		// The whole batch is rejected.
		m.RejectionRatePercent = RejectionRate(m.TotalRecords, 0)
		m.ProcessingTimeSeconds = time.Since(start).Seconds()
		v.log.Error().Err(err).Msg("Schema validation failed")
		return nil, m, err
	}
	v.log.Info().Msg("Schema validation passed")

	for _, r := range v.rules {
		before := len(rows)
		rows = r.apply(rows, &m)
		v.log.Debug().
			Str("rule", r.Name).
			Int("in", before).
			Int("out", len(rows)).
			Msg("Rule applied")
	}

	records := make([]batch.Record, 0, len(rows))
	for _, c := range rows {
		records = append(records, batch.Record{
			TransactionID: c.raw.TransactionID,
			Date:          c.date,
			Region:        c.raw.Region,
			Product:       c.raw.Product,
			Quantity:      c.quantity,
			Price:         c.price,
			CustomerID:    c.raw.CustomerID,
		})
	}

	m.ValidRecords = len(records)
	m.RejectionRatePercent = RejectionRate(m.TotalRecords, m.ValidRecords)
	m.ProcessingTimeSeconds = time.Since(start).Seconds()

	v.log.Info().
		Int("valid", m.ValidRecords).
		Int("total", m.TotalRecords).
		Float64("rejection_rate_percent", m.RejectionRatePercent).
		Msg("Validation completed")

	return records, m, nil
}

// checkSchema verifies every required column is present, drops extras and
// projects each row onto the catalog's column order. Null tokens are
// normalised to "" here so every later rule sees one representation of
// "missing".
func (v *Validator) checkSchema(t *batch.Table) ([]candidate, error) {
	if t == nil {
		t = &batch.Table{}
	}

	idx := make(map[string]int, len(v.catalog.RequiredColumns))
	var missing []string
	for _, col := range v.catalog.RequiredColumns {
		i := t.ColumnIndex(col)
		if i < 0 {
			missing = append(missing, col)
			continue
		}
		idx[col] = i
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	cell := func(row []string, col string) string {
		s := batch.Cell(row, idx[col])
		if v.catalog.IsNullToken(s) {
			return ""
		}
		return s
	}

	rows := make([]candidate, 0, len(t.Rows))
	for _, row := range t.Rows {
		rows = append(rows, candidate{raw: batch.RawRecord{
			TransactionID: cell(row, rules.ColTransactionID),
			Date:          cell(row, rules.ColDate),
			Region:        cell(row, rules.ColRegion),
			Product:       cell(row, rules.ColProduct),
			Quantity:      cell(row, rules.ColQuantity),
			Price:         cell(row, rules.ColPrice),
			CustomerID:    cell(row, rules.ColCustomerID),
		}})
	}
	return rows, nil
}
