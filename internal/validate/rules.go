package validate

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/sales-etl/internal/rules"
)

// removeDuplicates keeps the first occurrence of each transaction_id.
func (v *Validator) removeDuplicates(rows []candidate, m *Metrics) []candidate {
	seen := make(map[string]struct{}, len(rows))
	out := make([]candidate, 0, len(rows))
	for _, c := range rows {
		if _, dup := seen[c.raw.TransactionID]; dup {
			continue
		}
		seen[c.raw.TransactionID] = struct{}{}
		out = append(out, c)
	}
	m.DuplicatesRemoved = len(rows) - len(out)
	v.log.Info().Int("removed", m.DuplicatesRemoved).Msg("Removed duplicate records")
	return out
}

// removeNulls drops rows with any empty required field.
func (v *Validator) removeNulls(rows []candidate, m *Metrics) []candidate {
	out := make([]candidate, 0, len(rows))
	for _, c := range rows {
		if v.hasEmptyField(c) {
			continue
		}
		out = append(out, c)
	}
	m.NullsRemoved = len(rows) - len(out)
	v.log.Info().Int("removed", m.NullsRemoved).Msg("Removed records with null values")
	return out
}

func (v *Validator) hasEmptyField(c candidate) bool {
	for _, col := range v.catalog.RequiredColumns {
		if strings.TrimSpace(c.raw.Field(col)) == "" {
			return true
		}
	}
	return false
}

// coerceTypes parses quantity as an integer and price as a decimal; rows that
// fail either are dropped.
func (v *Validator) coerceTypes(rows []candidate, m *Metrics) []candidate {
	out := make([]candidate, 0, len(rows))
	for _, c := range rows {
		qty, ok := parseQuantity(c.raw.Quantity)
		if !ok {
			continue
		}
		price, ok := parsePrice(c.raw.Price)
		if !ok {
			continue
		}
		c.quantity = qty
		c.price = price
		out = append(out, c)
	}
	m.TypeErrors = len(rows) - len(out)
	if m.TypeErrors > 0 {
		v.log.Warn().Int("removed", m.TypeErrors).Msg("Removed records due to data type conversion errors")
	}
	return out
}

// parseQuantity accepts integers and integral decimals such as "5.0".
func parseQuantity(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// parsePrice accepts any decimal except NaN. Infinite prices pass coercion and
// are left to the price bound.
func parsePrice(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// normalizeDates parses the date with the catalog layouts and rewrites it
// as YYYY-MM-DD.
func (v *Validator) normalizeDates(rows []candidate, m *Metrics) []candidate {
	out := make([]candidate, 0, len(rows))
	for _, c := range rows {
		d, ok := v.parseDate(c.raw.Date)
		if !ok {
			continue
		}
		c.date = d.Format(rules.CanonicalDateLayout)
		out = append(out, c)
	}
	m.InvalidDates = len(rows) - len(out)
	if m.InvalidDates > 0 {
		v.log.Warn().Int("removed", m.InvalidDates).Msg("Removed records with invalid dates")
	}
	return out
}

func (v *Validator) parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range v.catalog.DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// applyBusinessRules enforces quantity and price bounds and the region set.
// Every violated dimension is counted, but the row is removed once.
func (v *Validator) applyBusinessRules(rows []candidate, m *Metrics) []candidate {
	out := make([]candidate, 0, len(rows))
	for _, c := range rows {
		valid := true
		if !v.catalog.QuantityBounds.Contains(c.quantity) {
			m.InvalidQuantity++
			valid = false
		}
		if !v.catalog.PriceBounds.Contains(c.price) {
			m.InvalidPrice++
			valid = false
		}
		if !v.catalog.IsValidRegion(c.raw.Region) {
			m.InvalidRegion++
			valid = false
		}
		if valid {
			out = append(out, c)
		}
	}
	m.BusinessRuleRejections = len(rows) - len(out)
	v.log.Info().
		Int("rejected", m.BusinessRuleRejections).
		Int("invalid_quantity", m.InvalidQuantity).
		Int("invalid_price", m.InvalidPrice).
		Int("invalid_region", m.InvalidRegion).
		Msg("Business rules applied")
	return out
}
