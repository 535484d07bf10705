package capability

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomInt_WithinBounds(t *testing.T) {
	ranges := [][2]int{
		{1, 100}, {5, 5}, {-10, 10}, {0, 1}, {-3, -1},
		{math.MinInt64, math.MaxInt64}, {math.MaxInt64 - 1, math.MaxInt64},
	}
	for _, rg := range ranges {
		for i := 0; i < 200; i++ {
			n, err := RandomInt(rg[0], rg[1])
			require.NoError(t, err)
			require.GreaterOrEqual(t, n, rg[0])
			require.LessOrEqual(t, n, rg[1])
		}
	}
}

func TestRandomInt_CoversSmallRange(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		n, err := RandomInt(1, 3)
		require.NoError(t, err)
		seen[n] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seen)
}

func TestRandomInt_MinAboveMax(t *testing.T) {
	_, err := RandomInt(10, 1)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "min must be less than or equal to max", ve.Message)
}
