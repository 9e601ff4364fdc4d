package models

import (
	"fmt"
	"time"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 1 (low) to 4 (critical); unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ParseSeverity maps a free-form string onto a Severity.
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(v)
	return s, s.Rank() > 0
}

// AnomalyType distinguishes spikes from sustained movements.
type AnomalyType string

const (
	AnomalyTypePoint AnomalyType = "point"
	AnomalyTypeTrend AnomalyType = "trend"
)

// AlgorithmKind identifies a detection algorithm.
type AlgorithmKind string

const (
	AlgorithmZScore          AlgorithmKind = "zscore"
	AlgorithmMAD             AlgorithmKind = "mad"
	AlgorithmIsolationForest AlgorithmKind = "isolation_forest"
)

// AnomalyScore is one algorithm's verdict for one detection attempt.
type AnomalyScore struct {
	Algorithm AlgorithmKind      `json:"algorithm"`
	Score     float64            `json:"score"`
	Threshold float64            `json:"threshold"`
	IsAnomaly bool               `json:"is_anomaly"`
	Details   map[string]float64 `json:"details,omitempty"`
}

// AnomalyContext carries the evidence surfaced next to an anomaly.
type AnomalyContext struct {
	RelatedMetrics   []string `json:"related_metrics,omitempty"`
	RecentEvents     []string `json:"recent_events,omitempty"`
	LogPatterns      []string `json:"log_patterns,omitempty"`
	PotentialCauses  []string `json:"potential_causes,omitempty"`
	SimilarIncidents []string `json:"similar_incidents,omitempty"`
}

// Anomaly is a detected deviation plus its lifecycle state.
type Anomaly struct {
	ID               string            `json:"id"`
	DetectedAt       time.Time         `json:"detected_at"`
	MetricName       string            `json:"metric_name"`
	Category         Category          `json:"category"`
	Labels           map[string]string `json:"labels,omitempty"`
	CurrentValue     float64           `json:"current_value"`
	BaselineValue    float64           `json:"baseline_value"`
	Deviation        float64           `json:"deviation"`
	DeviationPercent float64           `json:"deviation_percent"`
	Type             AnomalyType       `json:"type"`
	Severity         Severity          `json:"severity"`
	Scores           []AnomalyScore    `json:"scores,omitempty"`
	EnsembleScore    float64           `json:"ensemble_score"`
	StartedAt        time.Time         `json:"started_at"`
	DurationMinutes  int               `json:"duration_minutes"`
	Active           bool              `json:"active"`
	Acknowledged     bool              `json:"acknowledged"`
	AcknowledgedBy   string            `json:"acknowledged_by,omitempty"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
	Context          *AnomalyContext   `json:"context,omitempty"`
}

// MetricKey returns the state key for the anomaly's metric.
func (a *Anomaly) MetricKey() string {
	return MetricKey(a.MetricName, a.Labels)
}

// AlertMessage renders a one-line operator summary.
func (a *Anomaly) AlertMessage() string {
	direction := "above"
	if a.Deviation < 0 {
		direction = "below"
	}
	return fmt.Sprintf("[%s] %s is %.2f, %.1f sigma %s baseline %.2f (%s, %dm)",
		a.Severity, a.MetricName, a.CurrentValue, abs(a.Deviation), direction, a.BaselineValue, a.Type, a.DurationMinutes)
}

// Clone returns a deep copy safe to hand to callers.
func (a *Anomaly) Clone() Anomaly {
	out := *a
	if a.Labels != nil {
		out.Labels = make(map[string]string, len(a.Labels))
		for k, v := range a.Labels {
			out.Labels[k] = v
		}
	}
	out.Scores = append([]AnomalyScore(nil), a.Scores...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	if a.Context != nil {
		ctx := AnomalyContext{
			RelatedMetrics:   append([]string(nil), a.Context.RelatedMetrics...),
			RecentEvents:     append([]string(nil), a.Context.RecentEvents...),
			LogPatterns:      append([]string(nil), a.Context.LogPatterns...),
			PotentialCauses:  append([]string(nil), a.Context.PotentialCauses...),
			SimilarIncidents: append([]string(nil), a.Context.SimilarIncidents...),
		}
		out.Context = &ctx
	}
	return out
}

// AnomalyBatch is the output of one detection cycle.
type AnomalyBatch struct {
	DetectionTime       time.Time `json:"detection_time"`
	Anomalies           []Anomaly `json:"anomalies"`
	Resolved            []Anomaly `json:"resolved,omitempty"`
	MetricsChecked      int       `json:"metrics_checked"`
	DetectionDurationMs int64     `json:"detection_duration_ms"`
}

// CriticalCount returns the number of critical anomalies in the batch.
func (b AnomalyBatch) CriticalCount() int {
	n := 0
	for _, a := range b.Anomalies {
		if a.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
