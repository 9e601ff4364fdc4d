package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-cognition/internal/detector"
	"github.com/miradorstack/mirador-cognition/internal/models"
)

const maxSearchLimit = 50

// ListActiveRequest filters active anomalies.
type ListActiveRequest struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
}

// AcknowledgeRequest acknowledges an active anomaly.
type AcknowledgeRequest struct {
	ID string `json:"id"`
	By string `json:"by"`
}

// AnalyzeRequest asks for a fresh analysis of an active anomaly.
type AnalyzeRequest struct {
	ID string `json:"id"`
}

// SearchRequest queries the knowledge base. A nil MinScore leaves the
// threshold to the knowledge base configuration.
type SearchRequest struct {
	Query    string   `json:"query"`
	Limit    int      `json:"limit"`
	MinScore *float64 `json:"min_score,omitempty"`
}

// EncodeStruct converts a JSON-serialisable value into a Struct.
func EncodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return structpb.NewStruct(fields)
}

// DecodeStruct converts a Struct into out using JSON field names.
func DecodeStruct(in *structpb.Struct, out any) error {
	if in == nil {
		return fmt.Errorf("request is nil")
	}
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// ParseListActiveRequest maps the request into a detector filter.
func ParseListActiveRequest(in *structpb.Struct) (detector.ActiveFilter, error) {
	var req ListActiveRequest
	if err := DecodeStruct(in, &req); err != nil {
		return detector.ActiveFilter{}, err
	}
	filter := detector.ActiveFilter{Category: models.Category(strings.TrimSpace(req.Category))}
	if s := strings.TrimSpace(req.Severity); s != "" {
		severity, ok := models.ParseSeverity(strings.ToLower(s))
		if !ok {
			return filter, fmt.Errorf("unknown severity %q", req.Severity)
		}
		filter.Severity = severity
	}
	return filter, nil
}

// ParseAcknowledgeRequest validates an acknowledgement.
func ParseAcknowledgeRequest(in *structpb.Struct) (AcknowledgeRequest, error) {
	var req AcknowledgeRequest
	if err := DecodeStruct(in, &req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.ID) == "" {
		return req, fmt.Errorf("id is required")
	}
	if strings.TrimSpace(req.By) == "" {
		return req, fmt.Errorf("by is required")
	}
	return req, nil
}

// ParseAnalyzeRequest validates an analysis request.
func ParseAnalyzeRequest(in *structpb.Struct) (AnalyzeRequest, error) {
	var req AnalyzeRequest
	if err := DecodeStruct(in, &req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.ID) == "" {
		return req, fmt.Errorf("id is required")
	}
	return req, nil
}

// ParseSearchRequest validates a knowledge base query.
func ParseSearchRequest(in *structpb.Struct) (SearchRequest, error) {
	var req SearchRequest
	if err := DecodeStruct(in, &req); err != nil {
		return req, err
	}
	req.Query = strings.TrimSpace(req.Query)
	switch {
	case req.Query == "":
		return req, fmt.Errorf("query is required")
	case req.Limit < 0 || req.Limit > maxSearchLimit:
		return req, fmt.Errorf("limit must be between 0 and %d", maxSearchLimit)
	case req.MinScore != nil && (*req.MinScore < 0 || *req.MinScore > 1):
		return req, fmt.Errorf("min_score must be between 0 and 1")
	}
	return req, nil
}

// ParseIncident decodes an incident to add to the knowledge base.
func ParseIncident(in *structpb.Struct) (models.Incident, error) {
	var incident models.Incident
	if err := DecodeStruct(in, &incident); err != nil {
		return incident, err
	}
	if strings.TrimSpace(incident.Title) == "" {
		return incident, fmt.Errorf("title is required")
	}
	if incident.Severity == "" {
		incident.Severity = models.SeverityMedium
	} else if _, ok := models.ParseSeverity(string(incident.Severity)); !ok {
		return incident, fmt.Errorf("unknown severity %q", incident.Severity)
	}
	return incident, nil
}

// ParseRunbook decodes a runbook to add to the knowledge base.
func ParseRunbook(in *structpb.Struct) (models.Runbook, error) {
	var runbook models.Runbook
	if err := DecodeStruct(in, &runbook); err != nil {
		return runbook, err
	}
	if strings.TrimSpace(runbook.Title) == "" {
		return runbook, fmt.Errorf("title is required")
	}
	return runbook, nil
}

// AnomaliesResponse renders an anomaly listing.
func AnomaliesResponse(anomalies []models.Anomaly) (*structpb.Struct, error) {
	if anomalies == nil {
		anomalies = []models.Anomaly{}
	}
	return EncodeStruct(struct {
		Anomalies []models.Anomaly `json:"anomalies"`
		Count     int              `json:"count"`
	}{anomalies, len(anomalies)})
}

// SearchResponse renders knowledge base hits.
func SearchResponse(results []models.SearchResult) (*structpb.Struct, error) {
	if results == nil {
		results = []models.SearchResult{}
	}
	return EncodeStruct(struct {
		Results []models.SearchResult `json:"results"`
	}{results})
}

// Status is the GetStatus response.
type Status struct {
	ActiveAnomalies  int           `json:"active_anomalies"`
	ResolvedCount    int           `json:"resolved_count"`
	RecentlyResolved []string      `json:"recently_resolved"`
	LastChange       *time.Time    `json:"last_change,omitempty"`
	Rules            []string      `json:"rules"`
	LLMModel         string        `json:"llm_model,omitempty"`
	AnalysisLatency  LatencyStatus `json:"analysis_latency"`
	Knowledge        any           `json:"knowledge,omitempty"`
}

// LatencyStatus reports on-demand analysis latency in milliseconds.
type LatencyStatus struct {
	Samples int     `json:"samples"`
	Total   uint64  `json:"total"`
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
	MaxMs   float64 `json:"max_ms"`
}

// StatusResponse renders st with empty lists instead of nulls.
func StatusResponse(st Status) (*structpb.Struct, error) {
	if st.RecentlyResolved == nil {
		st.RecentlyResolved = []string{}
	}
	if st.Rules == nil {
		st.Rules = []string{}
	}
	return EncodeStruct(st)
}
