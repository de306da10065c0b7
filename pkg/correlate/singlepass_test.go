package correlate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinglePassGroupsByThreshold(t *testing.T) {
	vectors := [][]float64{
		{1, 0, 0},
		{0.99, 0.01, 0},
		{0, 1, 0},
		{0.01, 0.99, 0},
		{1, 0.01, 0.01},
	}
	groups := singlePassGroups(vectors, 0.3, 2)
	require.Len(t, groups, 2)
	assert.Equal(t, []int{0, 1, 4}, groups[0])
	assert.Equal(t, []int{2, 3}, groups[1])
}

func TestSinglePassDropsSmallGroups(t *testing.T) {
	vectors := [][]float64{
		{1, 0, 0},
		{1, 0, 0},
		{0, 0, 1}, // lone vector
	}
	groups := singlePassGroups(vectors, 0.1, 2)
	require.Len(t, groups, 1)
	assert.Equal(t, []int{0, 1}, groups[0])
}

func TestSinglePassIdenticalVectorsSingleGroup(t *testing.T) {
	vectors := [][]float64{{0, 1}, {0, 1}, {0, 1}, {0, 1}}
	groups := singlePassGroups(vectors, 0.05, 1)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 4)
}

func TestSinglePassEmptyInput(t *testing.T) {
	assert.Empty(t, singlePassGroups(nil, 0.3, 1))
}

func TestCosineDistance64(t *testing.T) {
	assert.InDelta(t, 0, cosineDistance64([]float64{1, 0}, []float64{2, 0}), 1e-12)
	assert.InDelta(t, 1, cosineDistance64([]float64{1, 0}, []float64{0, 3}), 1e-12)
	assert.InDelta(t, 2, cosineDistance64([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.Equal(t, 1.0, cosineDistance64([]float64{0, 0}, []float64{1, 0}))
	assert.Equal(t, 1.0, cosineDistance64([]float64{1, 0}, []float64{1, 0, 0}))
}
