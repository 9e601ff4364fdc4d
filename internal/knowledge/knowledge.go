package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-cognition/internal/config"
	"github.com/miradorstack/mirador-cognition/internal/metrics"
	"github.com/miradorstack/mirador-cognition/internal/models"
)

// DefaultMinScore asks a search to use the configured minimum score. Any
// value in [0, 1] is used as given.
const DefaultMinScore = -1.0

const (
	defaultMinScore      = 0.5
	defaultIncidentLimit = 5
	defaultRunbookLimit  = 3
)

// Search paths reported to metrics.
const (
	pathVector = "vector"
	pathLocal  = "local"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores vectors with a payload and answers nearest-neighbour
// queries filtered by item type.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error
	Search(ctx context.Context, vector []float32, itemType string, limit int) ([]models.VectorHit, error)
}

// Stats summarises the knowledge base.
type Stats struct {
	VectorEnabled bool `json:"vector_enabled"`
	Embedder      bool `json:"embedder"`
	Incidents     int  `json:"incident_count"`
	Runbooks      int  `json:"runbook_count"`
}

// KnowledgeBase keeps incidents and runbooks for similarity search. The local
// cache is authoritative; the vector index is an accelerator that may be
// absent or failing.
type KnowledgeBase struct {
	cfg      config.KnowledgeConfig
	embedder Embedder
	index    VectorIndex
	logger   *slog.Logger

	mu        sync.RWMutex
	incidents map[string]*models.Incident
	runbooks  map[string]*models.Runbook
}

// New constructs a KnowledgeBase. embedder and index may be nil.
func New(cfg config.KnowledgeConfig, embedder Embedder, index VectorIndex, logger *slog.Logger) *KnowledgeBase {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinScore < 0 {
		cfg.MinScore = defaultMinScore
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 5 * time.Second
	}
	return &KnowledgeBase{
		cfg:       cfg,
		embedder:  embedder,
		index:     index,
		logger:    logger,
		incidents: make(map[string]*models.Incident),
		runbooks:  make(map[string]*models.Runbook),
	}
}

// AddIncident stores the incident and returns its id, assigning one when
// empty. Embedding or index failures are logged and never prevent the local
// insert.
func (kb *KnowledgeBase) AddIncident(ctx context.Context, incident *models.Incident) string {
	if incident == nil {
		return ""
	}
	if incident.ID == "" {
		incident.ID = newID("INC-")
	}
	text := joinText(incident.Title, incident.Description, incident.RootCause, incident.Resolution)
	incident.Embedding = kb.store(ctx, models.ItemTypeIncident, incident.ID, text, incident)

	kb.mu.Lock()
	stored := *incident
	kb.incidents[incident.ID] = &stored
	kb.mu.Unlock()

	kb.logger.Info("added incident", slog.String("id", incident.ID), slog.String("title", incident.Title))
	return incident.ID
}

// AddRunbook stores the runbook and returns its id.
func (kb *KnowledgeBase) AddRunbook(ctx context.Context, runbook *models.Runbook) string {
	if runbook == nil {
		return ""
	}
	if runbook.ID == "" {
		runbook.ID = newID("RB-")
	}
	text := joinText(runbook.Title, runbook.Description, strings.Join(runbook.TriggerConditions, " "))
	runbook.Embedding = kb.store(ctx, models.ItemTypeRunbook, runbook.ID, text, runbook)

	kb.mu.Lock()
	stored := *runbook
	kb.runbooks[runbook.ID] = &stored
	kb.mu.Unlock()

	kb.logger.Info("added runbook", slog.String("id", runbook.ID), slog.String("title", runbook.Title))
	return runbook.ID
}

// store embeds text and upserts it into the vector index. It returns the
// vector when one was produced.
func (kb *KnowledgeBase) store(ctx context.Context, itemType, id, text string, item any) []float32 {
	if kb.embedder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, kb.cfg.WriteTimeout)
	defer cancel()

	vector, err := kb.embedder.Embed(ctx, text)
	if err != nil || len(vector) == 0 {
		kb.logger.Warn("embedding failed, keeping item local only",
			slog.String("id", id), slog.String("item_type", itemType), slog.Any("error", err))
		metrics.ObserveKnowledgeWriteFailure("embed")
		return nil
	}
	if kb.index == nil {
		return vector
	}
	payload, err := toPayload(itemType, item)
	if err != nil {
		kb.logger.Warn("encode vector payload", slog.String("id", id), slog.Any("error", err))
		metrics.ObserveKnowledgeWriteFailure("encode")
		return vector
	}
	if err := kb.index.Upsert(ctx, id, vector, payload); err != nil {
		kb.logger.Warn("vector upsert failed, keeping item local only",
			slog.String("id", id), slog.String("item_type", itemType), slog.Any("error", err))
		metrics.ObserveKnowledgeWriteFailure("upsert")
	}
	return vector
}

// SearchSimilarIncidents returns incidents similar to query with a score of at
// least minScore, best first. A non-positive limit uses the default limit and a
// negative minScore the configured one.
func (kb *KnowledgeBase) SearchSimilarIncidents(ctx context.Context, query string, limit int, minScore float64) []models.SearchResult {
	if limit <= 0 {
		limit = defaultIncidentLimit
	}
	if minScore < 0 {
		minScore = kb.cfg.MinScore
	}
	if results := kb.vectorSearch(ctx, models.ItemTypeIncident, query, limit, minScore); len(results) > 0 {
		metrics.ObserveKnowledgeSearch(models.ItemTypeIncident, pathVector)
		return results
	}
	metrics.ObserveKnowledgeSearch(models.ItemTypeIncident, pathLocal)
	return kb.localSearchIncidents(query, limit, minScore)
}

// SearchRunbooks returns runbooks relevant to query, best first.
func (kb *KnowledgeBase) SearchRunbooks(ctx context.Context, query string, limit int, minScore float64) []models.SearchResult {
	if limit <= 0 {
		limit = defaultRunbookLimit
	}
	if minScore < 0 {
		minScore = kb.cfg.MinScore
	}
	if results := kb.vectorSearch(ctx, models.ItemTypeRunbook, query, limit, minScore); len(results) > 0 {
		metrics.ObserveKnowledgeSearch(models.ItemTypeRunbook, pathVector)
		return results
	}
	metrics.ObserveKnowledgeSearch(models.ItemTypeRunbook, pathLocal)
	return kb.localSearchRunbooks(query, limit, minScore)
}

// FindSimilarToAnomaly searches incidents resembling an anomaly on metric.
func (kb *KnowledgeBase) FindSimilarToAnomaly(ctx context.Context, metric string, deviation float64, severity models.Severity, limit int) []models.SearchResult {
	if limit <= 0 {
		limit = kb.cfg.SimilarLimit
	}
	return kb.SearchSimilarIncidents(ctx, AnomalyQuery(metric, deviation, severity), limit, kb.cfg.MinScore)
}

// AnomalyQuery renders the natural-language query used for anomaly lookups.
func AnomalyQuery(metric string, deviation float64, severity models.Severity) string {
	return fmt.Sprintf("anomaly in %s with %.1f sigma deviation severity %s", metric, math.Abs(deviation), severity)
}

// GetIncident returns a copy of the incident, or nil for an unknown id.
func (kb *KnowledgeBase) GetIncident(id string) *models.Incident {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	inc, ok := kb.incidents[id]
	if !ok {
		return nil
	}
	out := *inc
	return &out
}

// GetRunbook returns a copy of the runbook, or nil for an unknown id.
func (kb *KnowledgeBase) GetRunbook(id string) *models.Runbook {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	rb, ok := kb.runbooks[id]
	if !ok {
		return nil
	}
	out := *rb
	return &out
}

// Stats reports item counts and which collaborators are wired.
func (kb *KnowledgeBase) Stats() Stats {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return Stats{
		VectorEnabled: kb.index != nil,
		Embedder:      kb.embedder != nil,
		Incidents:     len(kb.incidents),
		Runbooks:      len(kb.runbooks),
	}
}

func (kb *KnowledgeBase) vectorSearch(ctx context.Context, itemType, query string, limit int, minScore float64) []models.SearchResult {
	if kb.embedder == nil || kb.index == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, kb.cfg.SearchTimeout)
	defer cancel()

	vector, err := kb.embedder.Embed(ctx, query)
	if err != nil || len(vector) == 0 {
		kb.logger.Warn("query embedding failed, using local search", slog.String("item_type", itemType), slog.Any("error", err))
		return nil
	}
	hits, err := kb.index.Search(ctx, vector, itemType, limit)
	if err != nil {
		kb.logger.Warn("vector search failed, using local search", slog.String("item_type", itemType), slog.Any("error", err))
		return nil
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < minScore {
			continue
		}
		result, err := fromPayload(itemType, hit)
		if err != nil {
			kb.logger.Warn("malformed vector payload", slog.String("id", hit.ID), slog.Any("error", err))
			continue
		}
		results = append(results, result)
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (kb *KnowledgeBase) localSearchIncidents(query string, limit int, minScore float64) []models.SearchResult {
	words := wordSet(query)
	kb.mu.RLock()
	results := make([]models.SearchResult, 0)
	for _, inc := range kb.incidents {
		score := overlapScore(words, joinText(inc.Title, inc.Description, inc.RootCause))
		if score >= minScore {
			c := *inc
			results = append(results, models.SearchResult{Incident: &c, Score: score, ItemType: models.ItemTypeIncident})
		}
	}
	kb.mu.RUnlock()
	return truncateResults(results, limit)
}

func (kb *KnowledgeBase) localSearchRunbooks(query string, limit int, minScore float64) []models.SearchResult {
	words := wordSet(query)
	kb.mu.RLock()
	results := make([]models.SearchResult, 0)
	for _, rb := range kb.runbooks {
		score := overlapScore(words, joinText(rb.Title, rb.Description, strings.Join(rb.TriggerConditions, " ")))
		if score >= minScore {
			c := *rb
			results = append(results, models.SearchResult{Runbook: &c, Score: score, ItemType: models.ItemTypeRunbook})
		}
	}
	kb.mu.RUnlock()
	return truncateResults(results, limit)
}

func truncateResults(results []models.SearchResult, limit int) []models.SearchResult {
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// sortResults orders by score descending, ties by id for stable output.
func sortResults(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID() < results[j].ID()
		}
		return results[i].Score > results[j].Score
	})
}

// overlapScore is |query ∩ text| / max(|query|, 1) over lowercase word sets.
func overlapScore(query map[string]struct{}, text string) float64 {
	candidate := wordSet(text)
	overlap := 0
	for w := range query {
		if _, ok := candidate[w]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(max(len(query), 1))
}

func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func joinText(parts ...string) string {
	return strings.Join(parts, " ")
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func toPayload(itemType string, item any) (map[string]any, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	payload := make(map[string]any)
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	payload["type"] = itemType
	return payload, nil
}

func fromPayload(itemType string, hit models.VectorHit) (models.SearchResult, error) {
	if t, _ := hit.Payload["type"].(string); t != "" && t != itemType {
		return models.SearchResult{}, fmt.Errorf("payload type %q does not match %q", t, itemType)
	}
	data, err := json.Marshal(hit.Payload)
	if err != nil {
		return models.SearchResult{}, err
	}
	result := models.SearchResult{Score: hit.Score, ItemType: itemType}
	switch itemType {
	case models.ItemTypeIncident:
		var inc models.Incident
		if err := json.Unmarshal(data, &inc); err != nil {
			return result, err
		}
		if inc.ID == "" {
			inc.ID = hit.ID
		}
		result.Incident = &inc
	case models.ItemTypeRunbook:
		var rb models.Runbook
		if err := json.Unmarshal(data, &rb); err != nil {
			return result, err
		}
		if rb.ID == "" {
			rb.ID = hit.ID
		}
		result.Runbook = &rb
	default:
		return result, fmt.Errorf("unknown item type %q", itemType)
	}
	return result, nil
}
