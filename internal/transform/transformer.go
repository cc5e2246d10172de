package transform

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dvloznov/sales-etl/internal/batch"
	"github.com/dvloznov/sales-etl/internal/rules"
	"github.com/rs/zerolog"
)

// ErrComputation is the sentinel wrapped by ComputationError.
var ErrComputation = errors.New("derived value could not be computed")

// ComputationError reports the step and record for which a derived value
// could not be produced. The whole batch fails; nothing is written.
type ComputationError struct {
	Step          string
	TransactionID string
	Err           error
}

func (e *ComputationError) Error() string {
	msg := fmt.Sprintf("step %s: transaction %q", e.Step, e.TransactionID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ComputationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrComputation}
	}
	return []error{ErrComputation, e.Err}
}

// Metrics is the transformation run report.
type Metrics struct {
	RecordsProcessed      int     `json:"records_processed"`
	ColumnsAdded          int     `json:"columns_added"`
	TotalRevenue          float64 `json:"total_revenue"`
	AvgRevenue            float64 `json:"avg_revenue"`
	ProcessingTimeSeconds float64 `json:"transformation_time"`

	RevenueCategories map[string]int `json:"revenue_categories,omitempty"`
	ProductCategories map[string]int `json:"product_categories,omitempty"`
	CustomerSegments  map[string]int `json:"customer_segments,omitempty"`
	UnmappedProducts  int            `json:"unmapped_products"`
	HighValueCount    int            `json:"high_value_count"`
	BulkPurchaseCount int            `json:"bulk_purchase_count"`

	Regions []batch.RegionSummary `json:"regions,omitempty"`
}

type step struct {
	name  string
	apply func(recs []batch.EnrichedRecord, m *Metrics) error
}

// Transformer derives the enrichment columns for a validated batch.
type Transformer struct {
	catalog rules.Catalog
	log     zerolog.Logger
	steps   []step
}

// New creates a Transformer for the given catalog.
func New(catalog rules.Catalog, log zerolog.Logger) *Transformer {
	t := &Transformer{catalog: catalog, log: log}
	// Later steps read fields written by earlier ones.
	t.steps = []step{
		{"revenue", t.addRevenue},
		{"date_features", t.addDateFeatures},
		{"revenue_category", t.addRevenueCategory},
		{"product_category", t.addProductCategory},
		{"customer_segment", t.addCustomerSegment},
		{"price_percentile", t.addPricePercentile},
		{"high_value", t.addHighValue},
		{"bulk_purchase", t.addBulkPurchase},
		{"regional_indicators", t.addRegionalIndicators},
	}
	return t
}

// Steps returns the step names in execution order.
func (t *Transformer) Steps() []string {
	names := make([]string, len(t.steps))
	for i, s := range t.steps {
		names[i] = s.name
	}
	return names
}

// Transform enriches every record. On error no records are returned.
func (t *Transformer) Transform(records []batch.Record) ([]batch.EnrichedRecord, Metrics, error) {
	start := time.Now()
	m := Metrics{
		RecordsProcessed:  len(records),
		ColumnsAdded:      len(batch.DerivedColumns),
		RevenueCategories: map[string]int{},
		ProductCategories: map[string]int{},
		CustomerSegments:  map[string]int{},
	}

	t.log.Info().Int("records", len(records)).Msg("Starting transformation")

	out := make([]batch.EnrichedRecord, len(records))
	for i, r := range records {
		out[i].Record = r
	}

	for _, s := range t.steps {
		if err := s.apply(out, &m); err != nil {
			m.ProcessingTimeSeconds = time.Since(start).Seconds()
			t.log.Error().Err(err).Str("step", s.name).Msg("Transformation failed")
			return nil, m, fmt.Errorf("Transform: %w", err)
		}
		t.log.Debug().Str("step", s.name).Msg("Step completed")
	}

	m.ProcessingTimeSeconds = time.Since(start).Seconds()
	t.logDistributions(m)
	t.log.Info().
		Int("records_processed", m.RecordsProcessed).
		Int("columns_added", m.ColumnsAdded).
		Float64("total_revenue", m.TotalRevenue).
		Float64("avg_revenue", m.AvgRevenue).
		Msg("Transformation completed")

	return out, m, nil
}

func (t *Transformer) logDistributions(m Metrics) {
	t.log.Info().Interface("distribution", m.RevenueCategories).Msg("Revenue category distribution")
	t.log.Info().Interface("distribution", m.CustomerSegments).Msg("Customer segment distribution")
	for _, r := range m.Regions {
		t.log.Info().
			Str("region", r.Region).
			Int("transactions", r.Transactions).
			Float64("total_revenue", r.TotalRevenue).
			Float64("avg_revenue", r.AvgRevenue).
			Msg("Regional performance")
	}
}

func (t *Transformer) addRevenue(recs []batch.EnrichedRecord, m *Metrics) error {
	var total float64
	for i := range recs {
		rev := batch.MulRound(recs[i].Quantity, recs[i].Price, 2)
		if math.IsNaN(rev) || math.IsInf(rev, 0) || rev < 0 {
			return &ComputationError{
				Step:          "revenue",
				TransactionID: recs[i].TransactionID,
				Err:           fmt.Errorf("revenue %v from quantity %d and price %v", rev, recs[i].Quantity, recs[i].Price),
			}
		}
		recs[i].Revenue = rev
		total += rev
	}
	m.TotalRevenue = batch.Round(total, 2)
	if len(recs) > 0 {
		m.AvgRevenue = batch.Round(total/float64(len(recs)), 2)
	}
	return nil
}

func (t *Transformer) addDateFeatures(recs []batch.EnrichedRecord, _ *Metrics) error {
	for i := range recs {
		d, err := time.Parse(rules.CanonicalDateLayout, recs[i].Date)
		if err != nil {
			return &ComputationError{Step: "date_features", TransactionID: recs[i].TransactionID, Err: err}
		}
		r := &recs[i]
		r.Year = d.Year()
		r.Month = int(d.Month())
		r.MonthName = d.Month().String()
		r.Quarter = (r.Month-1)/3 + 1
		r.DayOfWeek = (int(d.Weekday()) + 6) % 7
		r.DayName = d.Weekday().String()
		_, r.WeekOfYear = d.ISOWeek()
		r.IsBusinessDay = r.DayOfWeek < 5
	}
	return nil
}

func (t *Transformer) addRevenueCategory(recs []batch.EnrichedRecord, m *Metrics) error {
	for i := range recs {
		tier, ok := t.catalog.RevenueTier(recs[i].Revenue)
		if !ok {
			return &ComputationError{
				Step:          "revenue_category",
				TransactionID: recs[i].TransactionID,
				Err:           fmt.Errorf("no tier for revenue %v", recs[i].Revenue),
			}
		}
		recs[i].RevenueCategory = tier
		m.RevenueCategories[tier]++
	}
	return nil
}

func (t *Transformer) addProductCategory(recs []batch.EnrichedRecord, m *Metrics) error {
	unmapped := map[string]int{}
	for i := range recs {
		cat, ok := t.catalog.ProductCategory(recs[i].Product)
		if !ok {
			unmapped[recs[i].Product]++
			m.UnmappedProducts++
		}
		recs[i].ProductCategory = cat
		m.ProductCategories[cat]++
	}
	if m.UnmappedProducts > 0 {
		t.log.Warn().
			Int("records", m.UnmappedProducts).
			Interface("products", unmapped).
			Msg("Unmapped products assigned default category")
	}
	return nil
}

// addCustomerSegment sums revenue per customer across the batch, maps each
// sum to a segment and copies it onto every record of that customer.
func (t *Transformer) addCustomerSegment(recs []batch.EnrichedRecord, m *Metrics) error {
	groups := groupBy(len(recs), func(i int) string { return recs[i].CustomerID })
	for _, customer := range sortedKeys(groups) {
		idx := groups[customer]
		var sum float64
		for _, i := range idx {
			sum += recs[i].Revenue
		}
		segment, ok := t.catalog.CustomerSegment(batch.Round(sum, 2))
		if !ok {
			return &ComputationError{
				Step:          "customer_segment",
				TransactionID: recs[idx[0]].TransactionID,
				Err:           fmt.Errorf("no segment for customer %q total %v", customer, sum),
			}
		}
		for _, i := range idx {
			recs[i].CustomerSegment = segment
		}
		m.CustomerSegments[segment] += len(idx)
	}
	return nil
}

func (t *Transformer) addPricePercentile(recs []batch.EnrichedRecord, _ *Metrics) error {
	groups := groupBy(len(recs), func(i int) string { return recs[i].Product })
	for _, idx := range groups {
		prices := make([]float64, len(idx))
		for k, i := range idx {
			prices[k] = recs[i].Price
		}
		for k, pct := range percentileRanks(prices) {
			recs[idx[k]].PricePercentile = pct
		}
	}
	return nil
}

func (t *Transformer) addHighValue(recs []batch.EnrichedRecord, m *Metrics) error {
	if len(recs) == 0 {
		return nil
	}
	revenues := make([]float64, len(recs))
	for i := range recs {
		revenues[i] = recs[i].Revenue
	}
	threshold := quantile(revenues, t.catalog.HighValueQuantile)
	for i := range recs {
		recs[i].IsHighValue = recs[i].Revenue >= threshold
		if recs[i].IsHighValue {
			m.HighValueCount++
		}
	}
	t.log.Debug().Float64("threshold", threshold).Int("high_value", m.HighValueCount).Msg("High-value threshold computed")
	return nil
}

func (t *Transformer) addBulkPurchase(recs []batch.EnrichedRecord, m *Metrics) error {
	groups := groupBy(len(recs), func(i int) string { return recs[i].Product })
	for _, idx := range groups {
		quantities := make([]float64, len(idx))
		for k, i := range idx {
			quantities[k] = float64(recs[i].Quantity)
		}
		med := median(quantities)
		for k, pct := range percentileRanks(quantities) {
			r := &recs[idx[k]]
			r.QuantityPercentile = pct
			r.IsBulkPurchase = quantities[k] > med
			if r.IsBulkPurchase {
				m.BulkPurchaseCount++
			}
		}
	}
	return nil
}

func (t *Transformer) addRegionalIndicators(recs []batch.EnrichedRecord, m *Metrics) error {
	groups := groupBy(len(recs), func(i int) string { return recs[i].Region })
	m.Regions = make([]batch.RegionSummary, 0, len(groups))
	for _, region := range sortedKeys(groups) {
		idx := groups[region]
		var sum float64
		for _, i := range idx {
			sum += recs[i].Revenue
		}
		avg := batch.Round(sum/float64(len(idx)), 2)
		for _, i := range idx {
			recs[i].RegionalAvgRevenue = avg
			recs[i].AboveRegionalAvg = recs[i].Revenue > avg
		}
		m.Regions = append(m.Regions, batch.RegionSummary{
			Region:       region,
			Transactions: len(idx),
			TotalRevenue: batch.Round(sum, 2),
			AvgRevenue:   avg,
		})
	}
	return nil
}
