package rules

import (
	"fmt"
	"math"
	"sort"
)

// Column names of the raw sales batch, in their declared order.
const (
	ColTransactionID = "transaction_id"
	ColDate          = "date"
	ColRegion        = "region"
	ColProduct       = "product"
	ColQuantity      = "quantity"
	ColPrice         = "price"
	ColCustomerID    = "customer_id"
)

// baseColumns are the fields every transaction record is built from.
var baseColumns = []string{
	ColTransactionID,
	ColDate,
	ColRegion,
	ColProduct,
	ColQuantity,
	ColPrice,
	ColCustomerID,
}

// DefaultProductCategory is assigned to products missing from the category map.
const DefaultProductCategory = "Other"

// CanonicalDateLayout is the layout every validated date is normalised to.
const CanonicalDateLayout = "2006-01-02"

// IntRange is an inclusive [Min, Max] bound.
type IntRange struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

// Contains reports whether v lies within the range, bounds included.
func (r IntRange) Contains(v int64) bool {
	return v >= r.Min && v <= r.Max
}

// FloatRange is an inclusive [Min, Max] bound.
type FloatRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies within the range, bounds included.
func (r FloatRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Band is a named half-open interval [Lower, Upper).
type Band struct {
	Name  string
	Lower float64
	Upper float64
}

// Threshold maps values at or above Min (and below the next threshold) to Name.
type Threshold struct {
	Name string
	Min  float64
}

// Catalog is the immutable rule set shared by the validation and
// transformation stages. It is passed by value; use Default to obtain
// a fresh copy that can be adjusted before a run.
type Catalog struct {
	RequiredColumns   []string
	QuantityBounds    IntRange
	PriceBounds       FloatRange
	ValidRegions      []string
	ProductCategories map[string]string
	RevenueTiers      []Band
	CustomerSegments  []Threshold
	NullTokens        []string
	DateLayouts       []string
	HighValueQuantile float64
}

// Default returns the production rule catalog.
func Default() Catalog {
	return Catalog{
		RequiredColumns: append([]string(nil), baseColumns...),
		QuantityBounds: IntRange{Min: 1, Max: 1000},
		PriceBounds:    FloatRange{Min: 0.01, Max: 100000.00},
		ValidRegions:   []string{"North", "South", "East", "West", "Central"},
		ProductCategories: map[string]string{
			"Laptop":   "Computing",
			"Desktop":  "Computing",
			"Monitor":  "Peripherals",
			"Keyboard": "Peripherals",
			"Mouse":    "Peripherals",
			"Headset":  "Audio",
			"Webcam":   "Video",
			"Router":   "Networking",
			"Switch":   "Networking",
			"Cable":    "Accessories",
		},
		RevenueTiers: []Band{
			{Name: "Low", Lower: 0, Upper: 100},
			{Name: "Medium", Lower: 100, Upper: 500},
			{Name: "High", Lower: 500, Upper: 2000},
			{Name: "Premium", Lower: 2000, Upper: math.Inf(1)},
		},
		CustomerSegments: []Threshold{
			{Name: "Bronze", Min: 0},
			{Name: "Silver", Min: 500},
			{Name: "Gold", Min: 2000},
			{Name: "Platinum", Min: 5000},
		},
		// Common missing-value markers from spreadsheet and CSV exports.
		NullTokens: []string{
			"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
			"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
			"n/a", "nan", "null",
		},
		DateLayouts: []string{
			CanonicalDateLayout,
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05",
			"2006-01-02T15:04:05Z07:00",
			"2006/01/02",
			"01/02/2006",
			"1/2/2006",
			"20060102",
			"Jan 2, 2006",
			"January 2, 2006",
			"2 Jan 2006",
		},
		HighValueQuantile: 0.9,
	}
}

// IsValidRegion reports whether region belongs to the enumerated set.
func (c Catalog) IsValidRegion(region string) bool {
	for _, r := range c.ValidRegions {
		if r == region {
			return true
		}
	}
	return false
}

// IsNullToken reports whether a raw cell value means "missing".
func (c Catalog) IsNullToken(v string) bool {
	for _, t := range c.NullTokens {
		if v == t {
			return true
		}
	}
	return false
}

// ProductCategory maps a product to its category. The second return value is
// false when the product is unmapped and DefaultProductCategory was used.
func (c Catalog) ProductCategory(product string) (string, bool) {
	if cat, ok := c.ProductCategories[product]; ok {
		return cat, true
	}
	return DefaultProductCategory, false
}

// RevenueTier returns the first band with Lower <= revenue < Upper. Values
// beyond the last band fall into it; NaN and values below the first band
// have no tier.
func (c Catalog) RevenueTier(revenue float64) (string, bool) {
	if math.IsNaN(revenue) || len(c.RevenueTiers) == 0 {
		return "", false
	}
	for _, b := range c.RevenueTiers {
		if b.Lower <= revenue && revenue < b.Upper {
			return b.Name, true
		}
	}
	if revenue >= c.RevenueTiers[0].Lower {
		return c.RevenueTiers[len(c.RevenueTiers)-1].Name, true
	}
	return "", false
}

// CustomerSegment maps a customer's batch-total revenue to a segment name.
func (c Catalog) CustomerSegment(total float64) (string, bool) {
	if math.IsNaN(total) || len(c.CustomerSegments) == 0 {
		return "", false
	}
	segment := c.CustomerSegments[0].Name
	for _, t := range c.CustomerSegments[1:] {
		if total < t.Min {
			break
		}
		segment = t.Name
	}
	return segment, true
}

// Clone returns a deep copy so callers can adjust a catalog without touching
// the receiver.
func (c Catalog) Clone() Catalog {
	out := c
	out.RequiredColumns = append([]string(nil), c.RequiredColumns...)
	out.ValidRegions = append([]string(nil), c.ValidRegions...)
	out.RevenueTiers = append([]Band(nil), c.RevenueTiers...)
	out.CustomerSegments = append([]Threshold(nil), c.CustomerSegments...)
	out.NullTokens = append([]string(nil), c.NullTokens...)
	out.DateLayouts = append([]string(nil), c.DateLayouts...)
	out.ProductCategories = make(map[string]string, len(c.ProductCategories))
	for k, v := range c.ProductCategories {
		out.ProductCategories[k] = v
	}
	return out
}

// Validate checks the catalog for internal consistency.
func (c Catalog) Validate() error {
	if len(c.RequiredColumns) == 0 {
		return fmt.Errorf("catalog: no required columns")
	}
	seen := make(map[string]bool, len(c.RequiredColumns))
	for _, col := range c.RequiredColumns {
		if seen[col] {
			return fmt.Errorf("catalog: duplicate required column %q", col)
		}
		seen[col] = true
	}
	for _, col := range baseColumns {
		if !seen[col] {
			return fmt.Errorf("catalog: required columns must include %q", col)
		}
	}
	if c.QuantityBounds.Min > c.QuantityBounds.Max {
		return fmt.Errorf("catalog: quantity bounds inverted [%d, %d]", c.QuantityBounds.Min, c.QuantityBounds.Max)
	}
	if c.PriceBounds.Min > c.PriceBounds.Max {
		return fmt.Errorf("catalog: price bounds inverted [%g, %g]", c.PriceBounds.Min, c.PriceBounds.Max)
	}
	if len(c.ValidRegions) == 0 {
		return fmt.Errorf("catalog: no valid regions")
	}
	if len(c.RevenueTiers) == 0 {
		return fmt.Errorf("catalog: no revenue tiers")
	}
	for i, b := range c.RevenueTiers {
		if b.Lower >= b.Upper {
			return fmt.Errorf("catalog: revenue tier %q is empty", b.Name)
		}
		if i > 0 && b.Lower != c.RevenueTiers[i-1].Upper {
			return fmt.Errorf("catalog: revenue tier %q does not start where %q ends", b.Name, c.RevenueTiers[i-1].Name)
		}
	}
	if len(c.CustomerSegments) == 0 {
		return fmt.Errorf("catalog: no customer segments")
	}
	if !sort.SliceIsSorted(c.CustomerSegments, func(i, j int) bool {
		return c.CustomerSegments[i].Min < c.CustomerSegments[j].Min
	}) {
		return fmt.Errorf("catalog: customer segment thresholds must be ascending")
	}
	if c.HighValueQuantile <= 0 || c.HighValueQuantile > 1 {
		return fmt.Errorf("catalog: high-value quantile %g outside (0, 1]", c.HighValueQuantile)
	}
	if len(c.DateLayouts) == 0 {
		return fmt.Errorf("catalog: no date layouts")
	}
	return nil
}
