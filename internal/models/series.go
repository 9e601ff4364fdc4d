package models

import (
	"sort"
	"strings"
	"time"
)

// Category groups metrics by business domain; it drives severity weighting.
type Category string

const (
	CategoryTrading        Category = "trading"
	CategoryMatching       Category = "matching"
	CategoryRisk           Category = "risk"
	CategoryWallet         Category = "wallet"
	CategoryAPI            Category = "api"
	CategoryInfrastructure Category = "infrastructure"
	CategoryDatabase       Category = "database"
	CategoryQueue          Category = "queue"
	CategoryBusiness       Category = "business"
)

// DataPoint is a single metric sample.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries is one named, labelled time series supplied by the metric store.
type MetricSeries struct {
	Name     string            `json:"name"`
	Category Category          `json:"category"`
	Labels   map[string]string `json:"labels,omitempty"`
	Points   []DataPoint       `json:"points"`
}

// Values returns the ordered sample values.
func (s MetricSeries) Values() []float64 {
	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Value
	}
	return values
}

// LatestValue returns the most recent sample value.
func (s MetricSeries) LatestValue() (float64, bool) {
	if len(s.Points) == 0 {
		return 0, false
	}
	return s.Points[len(s.Points)-1].Value, true
}

// Key returns the metric key used to track anomaly state for this series.
func (s MetricSeries) Key() string {
	return MetricKey(s.Name, s.Labels)
}

// MetricKey renders name plus sorted labels, e.g. `latency{pod=a,zone=b}`.
func MetricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// LogEntry is a recent log line consulted during RCA.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Service   string    `json:"service"`
	ErrorCode string    `json:"error_code,omitempty"`
}

// Event is a recent platform event (deployments, restarts, scaling).
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message"`
}
