package correlate

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// singlePassGroups clusters vectors in one pass: each vector joins the first
// centroid within threshold (cosine distance) or seeds a new one. Centroids
// are running sums; cosine similarity is scale-invariant so the sum stands
// in for the mean. Groups smaller than minSize are dropped.
func singlePassGroups(vectors [][]float64, threshold float64, minSize int) [][]int {
	var sums [][]float64
	var groups [][]int

	for i, v := range vectors {
		assigned := -1
		for ci, sum := range sums {
			if cosineDistance64(sum, v) <= threshold {
				assigned = ci
				break
			}
		}
		if assigned == -1 {
			sum := make([]float64, len(v))
			copy(sum, v)
			sums = append(sums, sum)
			groups = append(groups, []int{i})
			continue
		}
		if len(sums[assigned]) == len(v) {
			floats.Add(sums[assigned], v)
		}
		groups[assigned] = append(groups[assigned], i)
	}

	if minSize < 1 {
		minSize = 1
	}
	kept := groups[:0]
	for _, g := range groups {
		if len(g) >= minSize {
			kept = append(kept, g)
		}
	}
	return kept
}

func cosineDistance64(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	dot := floats.Dot(a, b)
	na := math.Sqrt(floats.Dot(a, a))
	nb := math.Sqrt(floats.Dot(b, b))
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(na*nb)
}
