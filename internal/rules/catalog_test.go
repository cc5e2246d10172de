package rules

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestRevenueTier(t *testing.T) {
	c := Default()

	tests := []struct {
		revenue float64
		want    string
		ok      bool
	}{
		{0, "Low", true},
		{99.99, "Low", true},
		{100, "Medium", true},
		{499.99, "Medium", true},
		{500, "High", true},
		{1999.99, "High", true},
		{2000, "Premium", true},
		{1e9, "Premium", true},
		{-1, "", false},
		{math.NaN(), "", false},
	}

	for _, tt := range tests {
		got, ok := c.RevenueTier(tt.revenue)
		assert.Equal(t, tt.ok, ok, "revenue %v", tt.revenue)
		assert.Equal(t, tt.want, got, "revenue %v", tt.revenue)
	}
}

func TestCustomerSegment(t *testing.T) {
	c := Default()

	tests := []struct {
		total float64
		want  string
	}{
		{0, "Bronze"},
		{499.99, "Bronze"},
		{500, "Silver"},
		{1999.99, "Silver"},
		{2000, "Gold"},
		{4999.99, "Gold"},
		{5000, "Platinum"},
		{123456, "Platinum"},
	}

	for _, tt := range tests {
		got, ok := c.CustomerSegment(tt.total)
		require.True(t, ok)
		assert.Equal(t, tt.want, got, "total %v", tt.total)
	}
}

func TestProductCategory(t *testing.T) {
	c := Default()

	cat, ok := c.ProductCategory("Laptop")
	assert.True(t, ok)
	assert.Equal(t, "Computing", cat)

	cat, ok = c.ProductCategory("Toaster")
	assert.False(t, ok)
	assert.Equal(t, DefaultProductCategory, cat)
}

func TestBounds(t *testing.T) {
	c := Default()

	assert.True(t, c.QuantityBounds.Contains(1))
	assert.True(t, c.QuantityBounds.Contains(1000))
	assert.False(t, c.QuantityBounds.Contains(0))
	assert.False(t, c.QuantityBounds.Contains(1001))

	assert.True(t, c.PriceBounds.Contains(0.01))
	assert.True(t, c.PriceBounds.Contains(100000))
	assert.False(t, c.PriceBounds.Contains(0.009))
}

func TestCloneIsIndependent(t *testing.T) {
	orig := Default()
	clone := orig.Clone()

	clone.ValidRegions[0] = "Nowhere"
	clone.ProductCategories["Toaster"] = "Kitchen"

	assert.Equal(t, "North", orig.ValidRegions[0])
	_, ok := orig.ProductCategories["Toaster"]
	assert.False(t, ok)
}

func TestValidateRejectsBrokenCatalogs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Catalog)
	}{
		{"no columns", func(c *Catalog) { c.RequiredColumns = nil }},
		{"missing base column", func(c *Catalog) { c.RequiredColumns = c.RequiredColumns[:6] }},
		{"duplicate column", func(c *Catalog) { c.RequiredColumns = append(c.RequiredColumns, ColDate) }},
		{"inverted quantity", func(c *Catalog) { c.QuantityBounds = IntRange{Min: 10, Max: 1} }},
		{"inverted price", func(c *Catalog) { c.PriceBounds = FloatRange{Min: 10, Max: 1} }},
		{"no regions", func(c *Catalog) { c.ValidRegions = nil }},
		{"gap in tiers", func(c *Catalog) { c.RevenueTiers[1].Lower = 150 }},
		{"unsorted segments", func(c *Catalog) { c.CustomerSegments[1].Min = 10000 }},
		{"bad quantile", func(c *Catalog) { c.HighValueQuantile = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
