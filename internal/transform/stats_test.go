package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentileRanks(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   []float64
	}{
		{"empty", nil, []float64{}},
		{"single", []float64{7}, []float64{1}},
		{"distinct", []float64{30, 10, 20}, []float64{1, 1.0 / 3, 2.0 / 3}},
		{"ties averaged", []float64{5, 5, 10, 1}, []float64{0.625, 0.625, 1, 0.25}},
		{"all equal", []float64{2, 2, 2, 2}, []float64{0.625, 0.625, 0.625, 0.625}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := percentileRanks(tt.values)
			assert.InDeltaSlice(t, tt.want, got, 1e-12)
		})
	}
}

func TestQuantile(t *testing.T) {
	assert.True(t, math.IsNaN(quantile(nil, 0.9)))
	assert.Equal(t, 4.0, quantile([]float64{4}, 0.9))
	// pos = 9*0.9 = 8.1 -> 9 + 0.1*(10-9)
	assert.InDelta(t, 9.1, quantile([]float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, 0.9), 1e-9)
	// pos = 0.9 -> 10 + 0.9*(1000-10)
	assert.InDelta(t, 901, quantile([]float64{1000, 10}, 0.9), 1e-9)
	// pos = 4*0.3 = 1.2 -> 20 + 0.2*(40-20)
	assert.InDelta(t, 24, quantile([]float64{80, 20, 40, 0, 60}, 0.3), 1e-9)
	// pos = 3*0.75 = 2.25 -> 5 + 0.25*(9-5)
	assert.InDelta(t, 6, quantile([]float64{9, 1, 5, 3}, 0.75), 1e-9)
	assert.Equal(t, 3.0, quantile([]float64{1, 2, 3}, 1))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
}

func TestGroupByPreservesOrder(t *testing.T) {
	keys := []string{"b", "a", "b", "c", "a"}
	groups := groupBy(len(keys), func(i int) string { return keys[i] })

	assert.Equal(t, map[string][]int{"a": {1, 4}, "b": {0, 2}, "c": {3}}, groups)
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(groups))
}
