package retrieval

import (
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Aggregator reduces the per-query scores to a single value.
type Aggregator interface {
	Reduce(values []float64) float64
}

// AggregatorFunc adapts a plain function to Aggregator.
type AggregatorFunc func(values []float64) float64

// Reduce calls f(values).
func (f AggregatorFunc) Reduce(values []float64) float64 {
	return f(values)
}

// Built-in aggregations.
var (
	Mean   Aggregator = AggregatorFunc(mean)
	Median Aggregator = AggregatorFunc(median)
	Min    Aggregator = AggregatorFunc(floats.Min)
	Max    Aggregator = AggregatorFunc(floats.Max)
)

var builtinAggregations = map[string]Aggregator{
	"mean":   Mean,
	"median": Median,
	"min":    Min,
	"max":    Max,
}

// ParseAggregation returns the built-in aggregation with the given name.
func ParseAggregation(name string) (Aggregator, error) {
	agg, ok := builtinAggregations[name]
	if !ok {
		return nil, errAggregation(name)
	}
	return agg, nil
}

// Aggregate reduces scores with agg. An empty score list aggregates to 0
// for every strategy and agg is not called. agg receives a copy.
func Aggregate(scores []float64, agg Aggregator) float64 {
	if len(scores) == 0 {
		return 0
	}
	return agg.Reduce(slices.Clone(scores))
}

func mean(values []float64) float64 {
	return stat.Mean(values, nil)
}

// median averages the two middle values of an even-length input.
func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
