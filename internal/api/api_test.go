package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-cognition/internal/config"
	"github.com/miradorstack/mirador-cognition/internal/models"
)

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	return s
}

func TestParseListActiveRequest(t *testing.T) {
	filter, err := ParseListActiveRequest(mustStruct(t, map[string]any{"category": "infrastructure", "severity": "HIGH"}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if filter.Category != "infrastructure" || filter.Severity != models.SeverityHigh {
		t.Fatalf("unexpected filter: %+v", filter)
	}
	if _, err := ParseListActiveRequest(mustStruct(t, map[string]any{"severity": "urgent"})); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
	if filter, err := ParseListActiveRequest(&structpb.Struct{}); err != nil || filter.Severity != "" {
		t.Fatalf("expected empty filter, got %+v, %v", filter, err)
	}
}

func TestParseAcknowledgeRequestRequiresFields(t *testing.T) {
	if _, err := ParseAcknowledgeRequest(mustStruct(t, map[string]any{"by": "ops"})); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if _, err := ParseAcknowledgeRequest(mustStruct(t, map[string]any{"id": "ANOM-1"})); err == nil {
		t.Fatalf("expected error for missing by")
	}
	req, err := ParseAcknowledgeRequest(mustStruct(t, map[string]any{"id": "ANOM-1", "by": "ops"}))
	if err != nil || req.ID != "ANOM-1" || req.By != "ops" {
		t.Fatalf("unexpected request %+v, %v", req, err)
	}
}

func TestParseSearchRequestValidation(t *testing.T) {
	zero, partial := 0.0, 0.4
	cases := []struct {
		name    string
		fields  map[string]any
		want    SearchRequest
		wantErr bool
	}{
		{"valid", map[string]any{"query": " cpu spike ", "limit": 3, "min_score": 0.4}, SearchRequest{Query: "cpu spike", Limit: 3, MinScore: &partial}, false},
		{"explicit zero score", map[string]any{"query": "cpu", "min_score": 0}, SearchRequest{Query: "cpu", MinScore: &zero}, false},
		{"omitted score", map[string]any{"query": "cpu"}, SearchRequest{Query: "cpu"}, false},
		{"missing query", map[string]any{"limit": 3}, SearchRequest{}, true},
		{"negative limit", map[string]any{"query": "cpu", "limit": -1}, SearchRequest{}, true},
		{"limit too large", map[string]any{"query": "cpu", "limit": 51}, SearchRequest{}, true},
		{"score above one", map[string]any{"query": "cpu", "min_score": 1.5}, SearchRequest{}, true},
		{"negative score", map[string]any{"query": "cpu", "min_score": -0.1}, SearchRequest{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := ParseSearchRequest(mustStruct(t, tc.fields))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(tc.want, req); diff != "" {
				t.Fatalf("request mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseIncidentDefaultsSeverity(t *testing.T) {
	incident, err := ParseIncident(mustStruct(t, map[string]any{
		"title":            "Matcher stalled",
		"root_cause":       "lock contention",
		"metrics_affected": []any{"orders_rate"},
	}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if incident.Severity != models.SeverityMedium {
		t.Fatalf("expected default severity medium, got %s", incident.Severity)
	}
	if diff := cmp.Diff([]string{"orders_rate"}, incident.MetricsAffected); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
	if _, err := ParseIncident(mustStruct(t, map[string]any{"description": "no title"})); err == nil {
		t.Fatalf("expected error for missing title")
	}
	if _, err := ParseIncident(mustStruct(t, map[string]any{"title": "x", "severity": "urgent"})); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}

func TestParseRunbookRequiresTitle(t *testing.T) {
	if _, err := ParseRunbook(mustStruct(t, map[string]any{"steps": []any{"restart"}})); err == nil {
		t.Fatalf("expected error for missing title")
	}
	runbook, err := ParseRunbook(mustStruct(t, map[string]any{"title": "Restart matcher", "steps": []any{"drain", "restart"}}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff([]string{"drain", "restart"}, runbook.Steps); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestResponsesNeverRenderNullLists(t *testing.T) {
	out, err := AnomaliesResponse(nil)
	if err != nil {
		t.Fatalf("anomalies response: %v", err)
	}
	if got := out.GetFields()["anomalies"].GetListValue(); got == nil || len(got.GetValues()) != 0 {
		t.Fatalf("expected empty anomalies list, got %v", out.GetFields()["anomalies"])
	}
	if got := out.GetFields()["count"].GetNumberValue(); got != 0 {
		t.Fatalf("expected count 0, got %v", got)
	}
	out, err = SearchResponse(nil)
	if err != nil {
		t.Fatalf("search response: %v", err)
	}
	if got := out.GetFields()["results"].GetListValue(); got == nil {
		t.Fatalf("expected empty results list")
	}
	out, err = StatusResponse(Status{})
	if err != nil {
		t.Fatalf("status response: %v", err)
	}
	for _, key := range []string{"recently_resolved", "rules"} {
		if got := out.GetFields()[key].GetListValue(); got == nil || len(got.GetValues()) != 0 {
			t.Fatalf("expected empty %s list, got %v", key, out.GetFields()[key])
		}
	}
	if _, ok := out.GetFields()["last_change"]; ok {
		t.Fatalf("expected last_change to be omitted when unset")
	}
}

type fakeCognition struct {
	lastSearch SearchRequest
}

func (f *fakeCognition) ListActiveAnomalies(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return AnomaliesResponse([]models.Anomaly{{ID: "ANOM-1", MetricName: "orders_rate"}})
}

func (f *fakeCognition) AcknowledgeAnomaly(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.NotFound, "no active anomaly")
}

func (f *fakeCognition) AnalyzeAnomaly(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return EncodeStruct(models.RCAResult{AnomalyID: "ANOM-1", Confidence: 0.5})
}

func (f *fakeCognition) GetLatestAnalysis(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.NotFound, "no stored analysis")
}

func (f *fakeCognition) SearchIncidents(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := ParseSearchRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	f.lastSearch = req
	return SearchResponse([]models.SearchResult{{Incident: &models.Incident{ID: "INC-1"}, Score: 0.9, ItemType: "incident"}})
}

func (f *fakeCognition) SearchRunbooks(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return SearchResponse(nil)
}

func (f *fakeCognition) AddIncident(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return EncodeStruct(map[string]any{"id": "INC-1"})
}

func (f *fakeCognition) AddRunbook(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return EncodeStruct(map[string]any{"id": "RB-1"})
}

func (f *fakeCognition) KnowledgeStats(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return EncodeStruct(map[string]any{"incident_count": 1})
}

func (f *fakeCognition) GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return StatusResponse(Status{ActiveAnomalies: 2, Rules: []string{"db-pool"}})
}

func TestServiceDescHandlersHonourInterceptor(t *testing.T) {
	want := []string{
		"ListActiveAnomalies", "AcknowledgeAnomaly", "AnalyzeAnomaly", "GetLatestAnalysis",
		"SearchIncidents", "SearchRunbooks", "AddIncident", "AddRunbook", "KnowledgeStats", "GetStatus",
	}
	got := make([]string, 0, len(CognitionServiceDesc.Methods))
	for _, m := range CognitionServiceDesc.Methods {
		got = append(got, m.MethodName)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("method table mismatch (-want +got):\n%s", diff)
	}

	var handler func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error)
	for _, m := range CognitionServiceDesc.Methods {
		if m.MethodName == "GetStatus" {
			handler = m.Handler
		}
	}
	dec := func(in any) error {
		in.(*structpb.Struct).Fields = map[string]*structpb.Value{}
		return nil
	}

	var seen string
	intercept := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return next(ctx, req)
	}
	out, err := handler(&fakeCognition{}, context.Background(), dec, intercept)
	if err != nil {
		t.Fatalf("intercepted call: %v", err)
	}
	if seen != "/"+ServiceName+"/GetStatus" {
		t.Fatalf("unexpected full method %q", seen)
	}
	if got := out.(*structpb.Struct).GetFields()["active_anomalies"].GetNumberValue(); got != 2 {
		t.Fatalf("expected active_anomalies 2, got %v", got)
	}

	out, err = handler(&fakeCognition{}, context.Background(), dec, nil)
	if err != nil {
		t.Fatalf("direct call: %v", err)
	}
	if got := out.(*structpb.Struct).GetFields()["rules"].GetListValue().GetValues(); len(got) != 1 {
		t.Fatalf("expected one rule, got %v", got)
	}
}

func startBufconnServer(t *testing.T, srv CognitionServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, lis, srv)
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestCognitionClientRoundTrip(t *testing.T) {
	fake := &fakeCognition{}
	conn := startBufconnServer(t, fake)
	client := NewCognitionClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := client.Call(ctx, "SearchIncidents", mustStruct(t, map[string]any{"query": "orders drop", "limit": 2}))
	if err != nil {
		t.Fatalf("search incidents: %v", err)
	}
	if diff := cmp.Diff(SearchRequest{Query: "orders drop", Limit: 2}, fake.lastSearch); diff != "" {
		t.Fatalf("server saw (-want +got):\n%s", diff)
	}
	var decoded struct {
		Results []models.SearchResult `json:"results"`
	}
	if err := DecodeStruct(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].ID() != "INC-1" || decoded.Results[0].Score != 0.9 {
		t.Fatalf("unexpected results: %+v", decoded.Results)
	}

	out, err = client.Call(ctx, "ListActiveAnomalies", nil)
	if err != nil {
		t.Fatalf("list anomalies: %v", err)
	}
	if got := out.GetFields()["count"].GetNumberValue(); got != 1 {
		t.Fatalf("expected count 1, got %v", got)
	}
}

func TestCognitionClientPropagatesStatus(t *testing.T) {
	conn := startBufconnServer(t, &fakeCognition{})
	client := NewCognitionClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "AcknowledgeAnomaly", mustStruct(t, map[string]any{"id": "ANOM-9", "by": "ops"}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	_, err = client.Call(ctx, "SearchIncidents", &structpb.Struct{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	_, err = client.Call(ctx, "DropTables", nil)
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented for unknown method, got %v", err)
	}
}

func TestServerReportsHealth(t *testing.T) {
	conn := startBufconnServer(t, &fakeCognition{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}
}
