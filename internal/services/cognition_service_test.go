package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-cognition/internal/api"
	"github.com/miradorstack/mirador-cognition/internal/detector"
	"github.com/miradorstack/mirador-cognition/internal/engine"
	"github.com/miradorstack/mirador-cognition/internal/knowledge"
	"github.com/miradorstack/mirador-cognition/internal/models"
	"github.com/miradorstack/mirador-cognition/internal/monitor"
)

type fakeRegistry struct {
	anomalies  []models.Anomaly
	lastFilter detector.ActiveFilter
	acked      map[string]string
}

func (f *fakeRegistry) GetActiveAnomalies(filter detector.ActiveFilter) []models.Anomaly {
	f.lastFilter = filter
	return f.anomalies
}

func (f *fakeRegistry) AcknowledgeAnomaly(id, who string) bool {
	for _, a := range f.anomalies {
		if a.ID == id {
			if f.acked == nil {
				f.acked = make(map[string]string)
			}
			f.acked[id] = who
			return true
		}
	}
	return false
}

type fakeAnalyzer struct {
	result models.RCAResult
	err    error
	stored map[string]models.RCAResult
}

func (f *fakeAnalyzer) AnalyzeAnomaly(context.Context, string) (models.RCAResult, error) {
	return f.result, f.err
}

func (f *fakeAnalyzer) LatestAnalysis(_ context.Context, id string) (*models.RCAResult, error) {
	if r, ok := f.stored[id]; ok {
		return &r, nil
	}
	return nil, nil
}

type fakeKB struct {
	incidents []models.Incident
	runbooks  []models.Runbook
	lastLimit int
	lastScore float64
}

func (f *fakeKB) SearchSimilarIncidents(_ context.Context, _ string, limit int, minScore float64) []models.SearchResult {
	f.lastLimit = limit
	f.lastScore = minScore
	out := make([]models.SearchResult, 0, len(f.incidents))
	for i := range f.incidents {
		out = append(out, models.SearchResult{Incident: &f.incidents[i], Score: 0.8, ItemType: "incident"})
	}
	return out
}

func (f *fakeKB) SearchRunbooks(_ context.Context, _ string, _ int, minScore float64) []models.SearchResult {
	f.lastScore = minScore
	return nil
}

func (f *fakeKB) AddIncident(_ context.Context, incident *models.Incident) string {
	incident.ID = "INC-00000001"
	f.incidents = append(f.incidents, *incident)
	return incident.ID
}

func (f *fakeKB) AddRunbook(_ context.Context, runbook *models.Runbook) string {
	runbook.ID = "RB-00000001"
	f.runbooks = append(f.runbooks, *runbook)
	return runbook.ID
}

func (f *fakeKB) Stats() knowledge.Stats {
	return knowledge.Stats{Incidents: len(f.incidents), Runbooks: len(f.runbooks)}
}

func newRequest(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	return s
}

func TestListActiveAnomaliesAppliesFilter(t *testing.T) {
	registry := &fakeRegistry{anomalies: []models.Anomaly{{ID: "ANOM-1", MetricName: "cpu_usage", Severity: models.SeverityHigh}}}
	svc := NewCognitionService(nil, registry, nil, nil)

	out, err := svc.ListActiveAnomalies(context.Background(), newRequest(t, map[string]any{"severity": "high"}))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if registry.lastFilter.Severity != models.SeverityHigh {
		t.Fatalf("expected severity filter to be forwarded, got %+v", registry.lastFilter)
	}
	if got := out.GetFields()["count"].GetNumberValue(); got != 1 {
		t.Fatalf("expected count 1, got %v", got)
	}

	_, err = svc.ListActiveAnomalies(context.Background(), newRequest(t, map[string]any{"severity": "urgent"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestAcknowledgeAnomaly(t *testing.T) {
	registry := &fakeRegistry{anomalies: []models.Anomaly{{ID: "ANOM-1"}}}
	svc := NewCognitionService(nil, registry, nil, nil)

	out, err := svc.AcknowledgeAnomaly(context.Background(), newRequest(t, map[string]any{"id": "ANOM-1", "by": "alice"}))
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if !out.GetFields()["acknowledged"].GetBoolValue() || registry.acked["ANOM-1"] != "alice" {
		t.Fatalf("expected acknowledgement recorded, got %v", out)
	}

	_, err = svc.AcknowledgeAnomaly(context.Background(), newRequest(t, map[string]any{"id": "ANOM-2", "by": "alice"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	_, err = svc.AcknowledgeAnomaly(context.Background(), newRequest(t, map[string]any{"id": "ANOM-1"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestAnalyzeAnomalyMapsErrors(t *testing.T) {
	analyzer := &fakeAnalyzer{result: models.RCAResult{AnomalyID: "ANOM-1", RootCauses: []string{"Lock contention"}, Confidence: 0.6}}
	svc := NewCognitionService(nil, &fakeRegistry{}, analyzer, nil)

	out, err := svc.AnalyzeAnomaly(context.Background(), newRequest(t, map[string]any{"id": "ANOM-1"}))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var result models.RCAResult
	if err := api.DecodeStruct(out, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.AnomalyID != "ANOM-1" || len(result.RootCauses) != 1 || result.Confidence != 0.6 {
		t.Fatalf("unexpected result: %+v", result)
	}

	analyzer.err = monitor.ErrUnknownAnomaly
	_, err = svc.AnalyzeAnomaly(context.Background(), newRequest(t, map[string]any{"id": "ANOM-9"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	analyzer.err = errors.New("boom")
	_, err = svc.AnalyzeAnomaly(context.Background(), newRequest(t, map[string]any{"id": "ANOM-1"}))
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestGetLatestAnalysis(t *testing.T) {
	analyzer := &fakeAnalyzer{stored: map[string]models.RCAResult{
		"ANOM-1": {AnomalyID: "ANOM-1", Confidence: 0.35},
	}}
	svc := NewCognitionService(nil, &fakeRegistry{}, analyzer, nil)

	out, err := svc.GetLatestAnalysis(context.Background(), newRequest(t, map[string]any{"id": "ANOM-1"}))
	if err != nil {
		t.Fatalf("latest analysis: %v", err)
	}
	if got := out.GetFields()["confidence"].GetNumberValue(); got != 0.35 {
		t.Fatalf("expected confidence 0.35, got %v", got)
	}
	_, err = svc.GetLatestAnalysis(context.Background(), newRequest(t, map[string]any{"id": "ANOM-2"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestKnowledgeOperations(t *testing.T) {
	kb := &fakeKB{}
	svc := NewCognitionService(nil, &fakeRegistry{}, nil, kb)
	ctx := context.Background()

	out, err := svc.AddIncident(ctx, newRequest(t, map[string]any{"title": "Matcher stalled", "root_cause": "lock contention"}))
	if err != nil {
		t.Fatalf("add incident: %v", err)
	}
	if got := out.GetFields()["id"].GetStringValue(); got != "INC-00000001" {
		t.Fatalf("unexpected incident id %q", got)
	}
	if kb.incidents[0].Severity != models.SeverityMedium {
		t.Fatalf("expected default severity, got %s", kb.incidents[0].Severity)
	}
	if _, err := svc.AddRunbook(ctx, newRequest(t, map[string]any{"title": "Restart matcher"})); err != nil {
		t.Fatalf("add runbook: %v", err)
	}

	out, err = svc.SearchIncidents(ctx, newRequest(t, map[string]any{"query": "matcher", "limit": 4}))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if kb.lastLimit != 4 {
		t.Fatalf("expected limit 4 forwarded, got %d", kb.lastLimit)
	}
	if got := len(out.GetFields()["results"].GetListValue().GetValues()); got != 1 {
		t.Fatalf("expected 1 result, got %d", got)
	}

	out, err = svc.SearchRunbooks(ctx, newRequest(t, map[string]any{"query": "restart"}))
	if err != nil {
		t.Fatalf("search runbooks: %v", err)
	}
	if list := out.GetFields()["results"].GetListValue(); list == nil || len(list.GetValues()) != 0 {
		t.Fatalf("expected empty result list, got %v", out)
	}

	out, err = svc.KnowledgeStats(ctx, &structpb.Struct{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if out.GetFields()["incident_count"].GetNumberValue() != 1 || out.GetFields()["runbook_count"].GetNumberValue() != 1 {
		t.Fatalf("unexpected stats: %v", out)
	}
}

func TestSearchForwardsMinScore(t *testing.T) {
	kb := &fakeKB{}
	svc := NewCognitionService(nil, &fakeRegistry{}, nil, kb)
	ctx := context.Background()

	cases := []struct {
		name   string
		fields map[string]any
		want   float64
	}{
		{"omitted", map[string]any{"query": "disk latency spike api"}, knowledge.DefaultMinScore},
		{"explicit zero", map[string]any{"query": "disk latency spike api", "min_score": 0}, 0},
		{"explicit value", map[string]any{"query": "disk latency spike api", "min_score": 0.7}, 0.7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kb.lastScore = 99
			if _, err := svc.SearchIncidents(ctx, newRequest(t, tc.fields)); err != nil {
				t.Fatalf("search incidents: %v", err)
			}
			if kb.lastScore != tc.want {
				t.Fatalf("incidents: expected min score %v, got %v", tc.want, kb.lastScore)
			}
			kb.lastScore = 99
			if _, err := svc.SearchRunbooks(ctx, newRequest(t, tc.fields)); err != nil {
				t.Fatalf("search runbooks: %v", err)
			}
			if kb.lastScore != tc.want {
				t.Fatalf("runbooks: expected min score %v, got %v", tc.want, kb.lastScore)
			}
		})
	}
}

func TestMissingDependenciesFailPrecondition(t *testing.T) {
	svc := NewCognitionService(nil, nil, nil, nil)
	ctx := context.Background()
	req := newRequest(t, map[string]any{"id": "ANOM-1", "by": "ops", "query": "x", "title": "t"})

	calls := map[string]func(context.Context, *structpb.Struct) (*structpb.Struct, error){
		"list":     svc.ListActiveAnomalies,
		"ack":      svc.AcknowledgeAnomaly,
		"analyze":  svc.AnalyzeAnomaly,
		"latest":   svc.GetLatestAnalysis,
		"search":   svc.SearchIncidents,
		"runbooks": svc.SearchRunbooks,
		"incident": svc.AddIncident,
		"runbook":  svc.AddRunbook,
		"stats":    svc.KnowledgeStats,
		"status":   svc.GetStatus,
	}
	for name, call := range calls {
		if _, err := call(ctx, req); status.Code(err) != codes.FailedPrecondition {
			t.Fatalf("%s: expected FailedPrecondition, got %v", name, err)
		}
	}
}

func TestGetStatusReportsSources(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	state := detector.NewState()
	state.Upsert(models.Anomaly{ID: "ANOM-1", MetricName: "cpu_usage"}, t0)
	state.Upsert(models.Anomaly{ID: "ANOM-2", MetricName: "orders_rate"}, t0)
	state.Resolve(models.MetricKey("cpu_usage", nil), t0.Add(5*time.Minute))

	rules := engine.NewRuleEngineFromConfig(engine.RuleConfigFile{Rules: []engine.Rule{
		{ID: "db-pool", RootCause: "pool exhausted"},
		{ID: "cpu-saturation", RootCause: "cpu bound"},
	}}, nil)
	registry := &fakeRegistry{anomalies: []models.Anomaly{{ID: "ANOM-2"}}}
	analyzer := &fakeAnalyzer{result: models.RCAResult{AnomalyID: "ANOM-2"}}
	kb := &fakeKB{incidents: []models.Incident{{ID: "INC-1"}}}
	svc := NewCognitionService(nil, registry, analyzer, kb).WithStatusSources(state, rules, "claude-test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.AnalyzeAnomaly(ctx, newRequest(t, map[string]any{"id": "ANOM-2"})); err != nil {
			t.Fatalf("analyze: %v", err)
		}
	}

	out, err := svc.GetStatus(ctx, &structpb.Struct{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var got api.Status
	if err := api.DecodeStruct(out, &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.ActiveAnomalies != 1 || got.ResolvedCount != 1 || got.LLMModel != "claude-test" {
		t.Fatalf("unexpected status %+v", got)
	}
	if diff := cmp.Diff([]string{"ANOM-1"}, got.RecentlyResolved); diff != "" {
		t.Fatalf("resolved mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"db-pool", "cpu-saturation"}, got.Rules); diff != "" {
		t.Fatalf("rules mismatch (-want +got):\n%s", diff)
	}
	if got.LastChange == nil || !got.LastChange.Equal(t0.Add(5*time.Minute)) {
		t.Fatalf("unexpected last change %v", got.LastChange)
	}
	if got.AnalysisLatency.Samples != 3 || got.AnalysisLatency.Total != 3 {
		t.Fatalf("expected three latency samples, got %+v", got.AnalysisLatency)
	}
	knowledgeStats, ok := got.Knowledge.(map[string]any)
	if !ok || knowledgeStats["incident_count"] != float64(1) {
		t.Fatalf("unexpected knowledge stats %#v", got.Knowledge)
	}
}

func TestGetStatusWithoutOptionalSources(t *testing.T) {
	svc := NewCognitionService(nil, &fakeRegistry{}, nil, nil)
	out, err := svc.GetStatus(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	fields := out.GetFields()
	if fields["active_anomalies"].GetNumberValue() != 0 || fields["rules"].GetListValue() == nil {
		t.Fatalf("unexpected status %v", out)
	}
	for _, key := range []string{"knowledge", "llm_model", "last_change"} {
		if _, ok := fields[key]; ok {
			t.Fatalf("expected %s to be omitted", key)
		}
	}
}
