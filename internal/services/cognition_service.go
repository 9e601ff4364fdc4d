package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-cognition/internal/api"
	"github.com/miradorstack/mirador-cognition/internal/detector"
	"github.com/miradorstack/mirador-cognition/internal/engine"
	"github.com/miradorstack/mirador-cognition/internal/knowledge"
	"github.com/miradorstack/mirador-cognition/internal/models"
	"github.com/miradorstack/mirador-cognition/internal/monitor"
	"github.com/miradorstack/mirador-cognition/internal/utils"
)

// AnomalyRegistry exposes the detector's active anomalies.
type AnomalyRegistry interface {
	GetActiveAnomalies(filter detector.ActiveFilter) []models.Anomaly
	AcknowledgeAnomaly(id, who string) bool
}

// Analyzer runs on-demand analysis for an active anomaly and returns the
// last stored analysis.
type Analyzer interface {
	AnalyzeAnomaly(ctx context.Context, id string) (models.RCAResult, error)
	LatestAnalysis(ctx context.Context, id string) (*models.RCAResult, error)
}

// KnowledgeBase is the incident and runbook store.
type KnowledgeBase interface {
	SearchSimilarIncidents(ctx context.Context, query string, limit int, minScore float64) []models.SearchResult
	SearchRunbooks(ctx context.Context, query string, limit int, minScore float64) []models.SearchResult
	AddIncident(ctx context.Context, incident *models.Incident) string
	AddRunbook(ctx context.Context, runbook *models.Runbook) string
	Stats() knowledge.Stats
}

// DetectionHistory reports recent registry activity for GetStatus.
type DetectionHistory interface {
	Resolved() []models.Anomaly
	LastUpdated() time.Time
}

// RulePack lists the loaded RCA rules for GetStatus.
type RulePack interface {
	Rules() []engine.Rule
}

const recentResolvedLimit = 10

// CognitionService implements the gRPC CognitionService.
type CognitionService struct {
	logger    *slog.Logger
	anomalies AnomalyRegistry
	analyzer  Analyzer
	kb        KnowledgeBase
	latencies *utils.LatencyWindow

	history  DetectionHistory
	rules    RulePack
	llmModel string
}

var _ api.CognitionServer = (*CognitionService)(nil)

// NewCognitionService constructs the service facade. analyzer and kb may be nil.
func NewCognitionService(logger *slog.Logger, anomalies AnomalyRegistry, analyzer Analyzer, kb KnowledgeBase) *CognitionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CognitionService{
		logger:    logger,
		anomalies: anomalies,
		analyzer:  analyzer,
		kb:        kb,
		latencies: utils.NewLatencyWindow(1024),
	}
}

// WithStatusSources attaches the optional views reported by GetStatus. Any of
// them may be nil or empty.
func (s *CognitionService) WithStatusSources(history DetectionHistory, rules RulePack, llmModel string) *CognitionService {
	s.history = history
	s.rules = rules
	s.llmModel = llmModel
	return s
}

// ListActiveAnomalies returns active anomalies, optionally filtered by category and severity.
func (s *CognitionService) ListActiveAnomalies(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.anomalies == nil {
		return nil, status.Error(codes.FailedPrecondition, "detector not configured")
	}
	filter, err := api.ParseListActiveRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return respond(api.AnomaliesResponse(s.anomalies.GetActiveAnomalies(filter)))
}

// AcknowledgeAnomaly marks an active anomaly as acknowledged.
func (s *CognitionService) AcknowledgeAnomaly(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.anomalies == nil {
		return nil, status.Error(codes.FailedPrecondition, "detector not configured")
	}
	ack, err := api.ParseAcknowledgeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !s.anomalies.AcknowledgeAnomaly(ack.ID, ack.By) {
		return nil, status.Errorf(codes.NotFound, "no active anomaly %s", ack.ID)
	}
	s.logger.Info("anomaly acknowledged", slog.String("anomaly_id", ack.ID), slog.String("by", ack.By))
	return respond(api.EncodeStruct(map[string]any{"id": ack.ID, "acknowledged": true}))
}

// AnalyzeAnomaly runs root-cause analysis on an active anomaly with fresh signals.
func (s *CognitionService) AnalyzeAnomaly(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}
	r, err := api.ParseAnalyzeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	result, err := s.analyzer.AnalyzeAnomaly(ctx, r.ID)
	if errors.Is(err, monitor.ErrUnknownAnomaly) {
		return nil, status.Errorf(codes.NotFound, "no active anomaly %s", r.ID)
	}
	if err != nil {
		s.logger.Error("analysis failed", slog.String("anomaly_id", r.ID), slog.Any("error", err))
		return nil, status.Error(codes.Internal, utils.WrapOp("analyze anomaly", r.ID, err).Error())
	}
	if n := s.latencies.Observe(time.Since(start)); n%20 == 0 {
		sum := s.latencies.Summary()
		s.logger.Info("analysis latency", slog.Duration("p95", sum.P95), slog.Duration("max", sum.Max), slog.Int("samples", sum.Samples))
	}
	return respond(api.EncodeStruct(result))
}

// GetLatestAnalysis returns the most recent stored analysis for an anomaly.
func (s *CognitionService) GetLatestAnalysis(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}
	r, err := api.ParseAnalyzeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := s.analyzer.LatestAnalysis(ctx, r.ID)
	if err != nil {
		s.logger.Error("analysis lookup failed", slog.String("anomaly_id", r.ID), slog.Any("error", err))
		return nil, status.Error(codes.Internal, utils.WrapOp("load analysis", r.ID, err).Error())
	}
	if result == nil {
		return nil, status.Errorf(codes.NotFound, "no stored analysis for %s", r.ID)
	}
	return respond(api.EncodeStruct(result))
}

// SearchIncidents returns incidents similar to the query.
func (s *CognitionService) SearchIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.kb == nil {
		return nil, status.Error(codes.FailedPrecondition, "knowledge base not configured")
	}
	q, err := api.ParseSearchRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return respond(api.SearchResponse(s.kb.SearchSimilarIncidents(ctx, q.Query, q.Limit, minScore(q))))
}

// SearchRunbooks returns runbooks relevant to the query.
func (s *CognitionService) SearchRunbooks(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.kb == nil {
		return nil, status.Error(codes.FailedPrecondition, "knowledge base not configured")
	}
	q, err := api.ParseSearchRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return respond(api.SearchResponse(s.kb.SearchRunbooks(ctx, q.Query, q.Limit, minScore(q))))
}

// AddIncident stores an incident in the knowledge base.
func (s *CognitionService) AddIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.kb == nil {
		return nil, status.Error(codes.FailedPrecondition, "knowledge base not configured")
	}
	incident, err := api.ParseIncident(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id := s.kb.AddIncident(ctx, &incident)
	return respond(api.EncodeStruct(map[string]any{"id": id}))
}

// AddRunbook stores a runbook in the knowledge base.
func (s *CognitionService) AddRunbook(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.kb == nil {
		return nil, status.Error(codes.FailedPrecondition, "knowledge base not configured")
	}
	runbook, err := api.ParseRunbook(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id := s.kb.AddRunbook(ctx, &runbook)
	return respond(api.EncodeStruct(map[string]any{"id": id}))
}

// KnowledgeStats reports knowledge base counts.
func (s *CognitionService) KnowledgeStats(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	if s.kb == nil {
		return nil, status.Error(codes.FailedPrecondition, "knowledge base not configured")
	}
	return respond(api.EncodeStruct(s.kb.Stats()))
}

// GetStatus summarises detector, rule pack, LLM, analysis latency and
// knowledge base state.
func (s *CognitionService) GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	if s.anomalies == nil {
		return nil, status.Error(codes.FailedPrecondition, "detector not configured")
	}
	st := api.Status{
		ActiveAnomalies: len(s.anomalies.GetActiveAnomalies(detector.ActiveFilter{})),
		LLMModel:        s.llmModel,
		AnalysisLatency: latencyStatus(s.latencies.Summary()),
	}
	if s.history != nil {
		resolved := s.history.Resolved()
		st.ResolvedCount = len(resolved)
		for i := len(resolved) - 1; i >= 0 && len(st.RecentlyResolved) < recentResolvedLimit; i-- {
			st.RecentlyResolved = append(st.RecentlyResolved, resolved[i].ID)
		}
		if last := s.history.LastUpdated(); !last.IsZero() {
			st.LastChange = &last
		}
	}
	if s.rules != nil {
		for _, r := range s.rules.Rules() {
			st.Rules = append(st.Rules, r.ID)
		}
	}
	if s.kb != nil {
		st.Knowledge = s.kb.Stats()
	}
	return respond(api.StatusResponse(st))
}

func latencyStatus(sum utils.LatencySummary) api.LatencyStatus {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return api.LatencyStatus{
		Samples: sum.Samples,
		Total:   sum.Total,
		P50Ms:   ms(sum.P50),
		P95Ms:   ms(sum.P95),
		MaxMs:   ms(sum.Max),
	}
}

func respond(out *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// minScore forwards an explicit threshold, including 0, and otherwise asks
// for the configured one.
func minScore(q api.SearchRequest) float64 {
	if q.MinScore == nil {
		return knowledge.DefaultMinScore
	}
	return *q.MinScore
}
