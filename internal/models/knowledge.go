package models

import "time"

// Item types stored in the vector index payload.
const (
	ItemTypeIncident = "incident"
	ItemTypeRunbook  = "runbook"
)

// Incident is a historical incident record consulted for similarity.
type Incident struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	RootCause        string     `json:"root_cause"`
	Resolution       string     `json:"resolution"`
	MetricsAffected  []string   `json:"metrics_affected,omitempty"`
	ServicesAffected []string   `json:"services_affected,omitempty"`
	Severity         Severity   `json:"severity"`
	DurationMinutes  int        `json:"duration_minutes"`
	OccurredAt       time.Time  `json:"occurred_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Embedding        []float32  `json:"-"`
}

// Runbook is an operational procedure consulted for similarity.
type Runbook struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	TriggerConditions []string  `json:"trigger_conditions,omitempty"`
	Steps             []string  `json:"steps,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	Embedding         []float32 `json:"-"`
}

// SearchResult wraps an incident or runbook hit with its similarity score.
type SearchResult struct {
	Incident *Incident `json:"incident,omitempty"`
	Runbook  *Runbook  `json:"runbook,omitempty"`
	Score    float64   `json:"score"`
	ItemType string    `json:"item_type"`
}

// ID returns the id of the wrapped item.
func (r SearchResult) ID() string {
	switch {
	case r.Incident != nil:
		return r.Incident.ID
	case r.Runbook != nil:
		return r.Runbook.ID
	default:
		return ""
	}
}

// VectorHit is a nearest-neighbour match returned by a vector index.
type VectorHit struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}
