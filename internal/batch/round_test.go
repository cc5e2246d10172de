package batch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	assert.Equal(t, 2.68, Round(2.675, 2))
	assert.Equal(t, 33.33, Round(100.0/3.0, 2))
	assert.Equal(t, -1.24, Round(-1.235, 2))
	assert.True(t, math.IsNaN(Round(math.NaN(), 2)))
}

func TestMulRound(t *testing.T) {
	assert.Equal(t, 1000.0, MulRound(2, 500, 2))
	assert.Equal(t, 10.0, MulRound(5, 2, 2))
	assert.Equal(t, 0.3, MulRound(3, 0.1, 2))
	assert.Equal(t, 69.93, MulRound(7, 9.99, 2))
	assert.True(t, math.IsNaN(MulRound(1, math.Inf(1), 2)))
}
