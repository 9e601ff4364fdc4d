package models

import "time"

// BaselineStatistics holds summary statistics for a metric window.
type BaselineStatistics struct {
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Median      float64 `json:"median"`
	MAD         float64 `json:"mad"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	SampleCount int     `json:"sample_count"`
}

// HourlyBaseline captures the expectation for one hour of the day.
type HourlyBaseline struct {
	Hour  int                `json:"hour"`
	Stats BaselineStatistics `json:"stats"`
	// DayOfWeekAdjustments multiplies the hourly mean, keyed by day of week with
	// Monday as 0 and Sunday as 6, the convention of the baseline producer.
	DayOfWeekAdjustments map[int]float64 `json:"day_of_week_adjustments,omitempty"`
}

// Baseline is the seasonal expectation for a metric+labels pair.
type Baseline struct {
	MetricName  string             `json:"metric_name"`
	Labels      map[string]string  `json:"labels,omitempty"`
	GlobalStats BaselineStatistics `json:"global_stats"`
	Hourly      []HourlyBaseline   `json:"hourly,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ExpectedValue returns the expected (mean, std) at ts, preferring the hourly
// profile and falling back to global statistics.
func (b *Baseline) ExpectedValue(ts time.Time) (float64, float64) {
	if b == nil {
		return 0, 0
	}
	hour := ts.Hour()
	for _, h := range b.Hourly {
		if h.Hour != hour {
			continue
		}
		adjust := 1.0
		if v, ok := h.DayOfWeekAdjustments[MondayIndex(ts)]; ok {
			adjust = v
		}
		return h.Stats.Mean * adjust, h.Stats.Std
	}
	return b.GlobalStats.Mean, b.GlobalStats.Std
}

// MondayIndex returns the day of week of ts with Monday as 0.
func MondayIndex(ts time.Time) int {
	return (int(ts.Weekday()) + 6) % 7
}
