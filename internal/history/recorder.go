package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-cognition/internal/models"
)

const unknownCause = "Unknown (auto-recorded anomaly)"

// Store receives incidents derived from resolved anomalies.
type Store interface {
	AddIncident(ctx context.Context, incident *models.Incident) string
}

// AnalysisLookup returns the last RCA result stored for an anomaly.
type AnalysisLookup interface {
	LatestAnalysis(ctx context.Context, anomalyID string) (*models.RCAResult, error)
}

// Recorder turns resolved anomalies into incidents so later similarity
// searches can surface them.
type Recorder struct {
	store    Store
	analyses AnalysisLookup
	logger   *slog.Logger
}

// NewRecorder constructs a Recorder; analyses may be nil.
func NewRecorder(logger *slog.Logger, store Store, analyses AnalysisLookup) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, analyses: analyses, logger: logger}
}

// Record stores one incident per resolved anomaly and returns their ids.
func (r *Recorder) Record(ctx context.Context, resolved []models.Anomaly) []string {
	if r.store == nil || len(resolved) == 0 {
		return nil
	}
	ids := make([]string, 0, len(resolved))
	for _, a := range resolved {
		var rca *models.RCAResult
		if r.analyses != nil {
			result, err := r.analyses.LatestAnalysis(ctx, a.ID)
			if err != nil {
				r.logger.Warn("analysis lookup failed, recording without root cause",
					slog.String("anomaly_id", a.ID), slog.Any("error", err))
			}
			rca = result
		}
		incident := IncidentFromAnomaly(a, rca)
		id := r.store.AddIncident(ctx, &incident)
		ids = append(ids, id)
		r.logger.Info("recorded resolved anomaly as incident",
			slog.String("anomaly_id", a.ID), slog.String("incident_id", id))
	}
	return ids
}

// IncidentFromAnomaly builds the incident record for a resolved anomaly. rca
// may be nil.
func IncidentFromAnomaly(a models.Anomaly, rca *models.RCAResult) models.Incident {
	incident := models.Incident{
		Title:           fmt.Sprintf("%s %s anomaly in %s", a.Severity, a.Type, a.MetricName),
		Description:     a.AlertMessage(),
		RootCause:       unknownCause,
		Resolution:      fmt.Sprintf("Recovered to baseline after %d minutes", a.DurationMinutes),
		MetricsAffected: []string{a.MetricName},
		Severity:        a.Severity,
		DurationMinutes: a.DurationMinutes,
		OccurredAt:      a.StartedAt,
		Tags:            []string{"auto-recorded", string(a.Category), string(a.Type)},
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		incident.ResolvedAt = &t
	}
	if svc := serviceOf(a.Labels); svc != "" {
		incident.ServicesAffected = []string{svc}
	}
	if a.Context != nil {
		incident.MetricsAffected = appendUnique(incident.MetricsAffected, a.Context.RelatedMetrics...)
	}

	if rca == nil {
		return incident
	}
	if len(rca.RootCauses) > 0 {
		incident.RootCause = strings.Join(rca.RootCauses, "; ")
	}
	incident.MetricsAffected = appendUnique(incident.MetricsAffected, rca.CorrelatedAnomalies...)
	if len(rca.SuggestedActions) > 0 {
		actions := append([]models.SuggestedAction(nil), rca.SuggestedActions...)
		sort.SliceStable(actions, func(i, j int) bool { return actions[i].Priority < actions[j].Priority })
		steps := make([]string, 0, len(actions))
		for _, act := range actions {
			steps = append(steps, act.Action+" "+act.Target)
		}
		incident.Resolution += "; suggested: " + strings.Join(steps, ", ")
	}
	return incident
}

func serviceOf(labels map[string]string) string {
	for _, k := range []string{"service", "app", "job"} {
		if v := strings.TrimSpace(labels[k]); v != "" {
			return v
		}
	}
	return ""
}

func appendUnique(items []string, more ...string) []string {
	for _, m := range more {
		if m == "" {
			continue
		}
		dup := false
		for _, it := range items {
			if it == m {
				dup = true
				break
			}
		}
		if !dup {
			items = append(items, m)
		}
	}
	return items
}
