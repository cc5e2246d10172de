package transform

import (
	"math"
	"sort"
)

// groupBy buckets the indices 0..n-1 by key, preserving input order inside
// each bucket.
func groupBy(n int, key func(i int) string) map[string][]int {
	groups := make(map[string][]int)
	for i := 0; i < n; i++ {
		k := key(i)
		groups[k] = append(groups[k], i)
	}
	return groups
}

// sortedKeys returns the keys of groups in ascending order.
func sortedKeys(groups map[string][]int) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// percentileRanks returns, for every value, its average 1-based rank divided
// by len(values). Tied values share the mean of the ranks they span, so every
// result lies in (0, 1] and equal inputs get equal outputs.
func percentileRanks(values []float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] < values[order[b]]
	})

	for start := 0; start < n; {
		end := start
		for end+1 < n && values[order[end+1]] == values[order[start]] {
			end++
		}
		// ranks start+1 .. end+1
		avg := float64(start+end+2) / 2
		for k := start; k <= end; k++ {
			out[order[k]] = avg / float64(n)
		}
		start = end + 1
	}
	return out
}

// quantile returns the q-th quantile of values using linear interpolation
// between the closest ranks. It returns NaN for an empty slice.
func quantile(values []float64, q float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)

	pos := float64(n-1) * q
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if hi >= n {
		hi = n - 1
	}
	return s[lo] + (s[hi]-s[lo])*(pos-float64(lo))
}

// median is the 0.5 quantile.
func median(values []float64) float64 {
	return quantile(values, 0.5)
}
