package engine

import (
	"fmt"
	"math"

	"github.com/miradorstack/mirador-cognition/internal/extractors"
	"github.com/miradorstack/mirador-cognition/internal/models"
)

const (
	correlationDeviationGate = 2.0
	correlationWindow        = 10
	correlationZScore        = 2.0
	correlatedAnomalyMinLen  = 10
	correlatedAnomalyZScore  = 2.5
)

// correlationCauses walks the correlation patterns that include the anomalous
// metric and reports partner metrics whose latest value is itself elevated
// against their recent window.
func correlationCauses(anomaly *models.Anomaly, patterns []CorrelationPattern, related []models.MetricSeries) []string {
	if math.Abs(anomaly.Deviation) <= correlationDeviationGate {
		return nil
	}

	causes := make([]string, 0)
	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		if !containsString(pattern.Metrics, anomaly.MetricName) {
			continue
		}
		for _, other := range pattern.Metrics {
			if other == anomaly.MetricName {
				continue
			}
			series, ok := findSeries(related, other)
			if !ok {
				continue
			}
			latest, ok := series.LatestValue()
			if !ok {
				continue
			}
			window := extractors.Tail(series.Values(), correlationWindow)
			std := extractors.StdDev(window)
			if std <= 0 {
				continue
			}
			if math.Abs(latest-extractors.Mean(window))/std <= correlationZScore {
				continue
			}
			cause := fmt.Sprintf("Correlated anomaly in %s (%s correlation)", other, pattern.ExpectedCorrelation)
			if _, dup := seen[cause]; dup {
				continue
			}
			seen[cause] = struct{}{}
			causes = append(causes, cause)
		}
	}
	return causes
}

// correlatedAnomalies lists related series, other than the anomaly's own
// metric, whose latest value sits beyond 2.5 sigma of their full history.
func correlatedAnomalies(anomaly *models.Anomaly, related []models.MetricSeries) []string {
	out := make([]string, 0)
	for _, series := range related {
		if series.Name == anomaly.MetricName || len(series.Points) < correlatedAnomalyMinLen {
			continue
		}
		values := series.Values()
		std := extractors.StdDev(values)
		if std <= 0 {
			continue
		}
		latest, _ := series.LatestValue()
		if math.Abs(latest-extractors.Mean(values))/std > correlatedAnomalyZScore {
			out = append(out, series.Name)
		}
	}
	return out
}

func findSeries(series []models.MetricSeries, name string) (models.MetricSeries, bool) {
	for _, s := range series {
		if s.Name == name && len(s.Points) > 0 {
			return s, true
		}
	}
	return models.MetricSeries{}, false
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
