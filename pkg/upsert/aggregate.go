package upsert

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Aggregation names how relationship weights are derived from the
// contributions of their sources.
type Aggregation string

const (
	// AggregateSum adds every contribution. Merging the same fragment twice
	// doubles the weight.
	AggregateSum Aggregation = "sum"
	// AggregateMax keeps the largest contribution. Repeats add nothing.
	AggregateMax Aggregation = "max"
	// AggregateDecay sorts contributions in descending order and weights the
	// n-th one with decay^n, so repeats add less and less.
	AggregateDecay Aggregation = "decay"
)

// ParseAggregation parses a configured aggregation name.
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return AggregateSum, nil
	case AggregateSum, AggregateMax, AggregateDecay:
		return a, nil
	}
	return "", fmt.Errorf("unknown aggregation %q", s)
}

// Aggregate computes the weight for a multiset of contributions. The result
// depends only on the multiset, never on its order, and never decreases when
// a non-negative contribution is added.
func Aggregate(a Aggregation, decay float64, contributions []float64) float64 {
	if len(contributions) == 0 {
		return 0
	}
	switch a {
	case AggregateMax:
		return slices.Max(contributions)
	case AggregateDecay:
		sorted := slices.Clone(contributions)
		slices.SortFunc(sorted, func(x, y float64) int {
			switch {
			case x > y:
				return -1
			case x < y:
				return 1
			}
			return 0
		})
		total := 0.0
		for n, c := range sorted {
			total += c * math.Pow(decay, float64(n))
		}
		return total
	default:
		sorted := slices.Clone(contributions)
		slices.Sort(sorted)
		total := 0.0
		for _, c := range sorted {
			total += c
		}
		return total
	}
}
