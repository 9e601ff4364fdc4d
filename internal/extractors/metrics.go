package extractors

import (
	"math"
	"sort"

	"github.com/miradorstack/mirador-cognition/internal/models"
)

// LatestValues maps each related series name to its most recent value.
func LatestValues(series []models.MetricSeries) map[string]float64 {
	values := make(map[string]float64, len(series))
	for _, s := range series {
		if v, ok := s.LatestValue(); ok {
			values[s.Name] = v
		}
	}
	return values
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

// Median returns the median of values.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// MAD returns the median absolute deviation around the median.
func MAD(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	median := Median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - median)
	}
	return Median(deviations)
}

// ZScore returns |value-mean(history)|/std(history), and false when the
// history has no spread.
func ZScore(value float64, history []float64) (float64, bool) {
	std := StdDev(history)
	if std <= 0 {
		return 0, false
	}
	return math.Abs(value-Mean(history)) / std, true
}

// IsMonotonic reports whether values are strictly increasing or strictly
// decreasing. Fewer than two values are never monotonic.
func IsMonotonic(values []float64) bool {
	if len(values) < 2 {
		return false
	}
	increasing, decreasing := true, true
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			increasing = false
		}
		if values[i] >= values[i-1] {
			decreasing = false
		}
	}
	return increasing || decreasing
}

// Tail returns the last n values (or all if shorter).
func Tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}
