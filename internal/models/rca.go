package models

import "time"

// SuggestedAction is a remediation step aggregated from matched rules.
type SuggestedAction struct {
	Action       string   `json:"action"`
	Target       string   `json:"target"`
	Priority     int      `json:"priority"`
	SourceRuleID string   `json:"source_rule_id"`
	Severity     Severity `json:"severity"`
}

// MatchedRule records a rule hit and its match score.
type MatchedRule struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	RootCause string   `json:"root_cause"`
	Severity  Severity `json:"severity"`
	Score     float64  `json:"score"`
}

// RCAResult is the output of one root-cause analysis run.
type RCAResult struct {
	AnomalyID           string            `json:"anomaly_id"`
	RootCauses          []string          `json:"root_causes"`
	MatchedRules        []MatchedRule     `json:"matched_rules"`
	CorrelatedAnomalies []string          `json:"correlated_anomalies"`
	LLMAnalysis         string            `json:"llm_analysis,omitempty"`
	Confidence          float64           `json:"confidence"`
	SuggestedActions    []SuggestedAction `json:"suggested_actions"`
	// DegradedSources names evidence sources that were unavailable for this run.
	DegradedSources []string  `json:"degraded_sources,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasLLMAnalysis reports whether an advisory narrative was attached.
func (r RCAResult) HasLLMAnalysis() bool {
	return r.LLMAnalysis != ""
}
