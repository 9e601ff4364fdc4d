package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-cognition/internal/config"
	"github.com/miradorstack/mirador-cognition/internal/extractors"
	"github.com/miradorstack/mirador-cognition/internal/metrics"
	"github.com/miradorstack/mirador-cognition/internal/models"
)

// Evidence sources reported in RCAResult.DegradedSources.
const (
	SourceRules = "rules"
	SourceLLM   = "llm"
)

const (
	llmConfidenceBoost = 0.2
	contextEventLimit  = 5
	contextLogLimit    = 10
	promptLineLimit    = 10
)

// Completer turns a prompt into free-form text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Engine performs root-cause analysis for a single anomaly at a time. It is
// safe for concurrent use.
type Engine struct {
	cfg    config.RCAConfig
	rules  RuleSource
	llm    Completer
	logger *slog.Logger
}

// NewEngine constructs an Engine. rules and llm may be nil. The LLM gate is
// taken as configured; a gate of 0 never consults the LLM.
func NewEngine(cfg config.RCAConfig, rules RuleSource, llm Completer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if r, ok := rules.(*RuleEngine); ok && r == nil {
		rules = nil
	}
	return &Engine{cfg: cfg, rules: rules, llm: llm, logger: logger}
}

// Analyze combines rule matches, metric correlation, log and event evidence
// into ranked root causes and suggested actions. The anomaly's Context is
// replaced with the evidence gathered. Collaborator failures degrade the
// result but never fail the call.
func (e *Engine) Analyze(ctx context.Context, anomaly *models.Anomaly, related []models.MetricSeries, logs []models.LogEntry, events []models.Event) models.RCAResult {
	started := time.Now()
	result := models.RCAResult{
		RootCauses:          make([]string, 0),
		MatchedRules:        make([]models.MatchedRule, 0),
		CorrelatedAnomalies: make([]string, 0),
		SuggestedActions:    make([]models.SuggestedAction, 0),
		CreatedAt:           started.UTC(),
	}
	if anomaly == nil {
		return result
	}
	result.AnomalyID = anomaly.ID

	correlatedValues := extractors.LatestValues(related)
	logPatterns := extractors.LogPatterns(logs)
	eventTypes := extractors.EventTypes(events)

	var (
		matches  []RuleMatch
		patterns []CorrelationPattern
	)
	if e.rulesAvailable() {
		matches = e.rules.FindMatchingRules(anomaly.MetricName, anomaly.CurrentValue, correlatedValues, logPatterns, eventTypes)
		patterns = e.rules.Correlations()
	} else {
		result.DegradedSources = append(result.DegradedSources, SourceRules)
	}

	causes := newOrderedSet()
	for _, m := range matches {
		causes.add(m.Rule.RootCause)
		result.MatchedRules = append(result.MatchedRules, models.MatchedRule{
			ID:        m.Rule.ID,
			Name:      m.Rule.Name,
			RootCause: m.Rule.RootCause,
			Severity:  m.Rule.Severity,
			Score:     m.Score,
		})
	}
	corrCauses := correlationCauses(anomaly, patterns, related)
	for _, c := range corrCauses {
		causes.add(c)
	}
	result.RootCauses = causes.items

	result.Confidence = Confidence(len(matches), len(corrCauses), len(logPatterns), len(eventTypes))
	result.CorrelatedAnomalies = correlatedAnomalies(anomaly, related)

	if e.shouldConsultLLM(result.Confidence) {
		text, err := e.consultLLM(ctx, anomaly, result.RootCauses, logs, events)
		if err != nil {
			e.logger.Warn("llm analysis failed",
				slog.String("anomaly_id", anomaly.ID),
				slog.Any("error", err),
			)
			result.DegradedSources = append(result.DegradedSources, SourceLLM)
			metrics.ObserveLLM(metrics.OutcomeError)
		} else {
			result.LLMAnalysis = text
			result.Confidence = math.Min(result.Confidence+llmConfidenceBoost, 1)
			metrics.ObserveLLM(metrics.OutcomeSuccess)
		}
	} else if e.cfg.UseLLM {
		metrics.ObserveLLM(metrics.OutcomeSkipped)
	}

	result.SuggestedActions = suggestedActions(matches)

	anomaly.Context = &models.AnomalyContext{
		RelatedMetrics:   seriesNames(related),
		RecentEvents:     extractors.EventSummaries(events, contextEventLimit),
		LogPatterns:      headStrings(logPatterns, contextLogLimit),
		PotentialCauses:  append([]string(nil), result.RootCauses...),
		SimilarIncidents: make([]string, 0),
	}

	metrics.ObserveAnalysis(time.Since(started), result.Confidence, len(result.RootCauses) > 0)
	e.logger.Debug("rca complete",
		slog.String("anomaly_id", anomaly.ID),
		slog.Int("root_causes", len(result.RootCauses)),
		slog.Float64("confidence", result.Confidence),
	)
	return result
}

// Confidence scores the weight of evidence. Each source saturates at its own
// cap before weighting, so the result lies in [0, 1].
func Confidence(rules, correlations, logPatterns, eventTypes int) float64 {
	score := 0.4*math.Min(1, 0.15*float64(rules)) +
		0.25*math.Min(1, 0.1*float64(correlations)) +
		0.2*math.Min(1, 0.05*float64(logPatterns)) +
		0.15*math.Min(1, 0.05*float64(eventTypes))
	return math.Min(1, score)
}

func (e *Engine) rulesAvailable() bool {
	if e.rules == nil {
		return false
	}
	if l, ok := e.rules.(interface{ Loaded() bool }); ok {
		return l.Loaded()
	}
	return true
}

func (e *Engine) shouldConsultLLM(confidence float64) bool {
	return e.cfg.UseLLM && e.llm != nil && confidence < e.cfg.LLMConfidenceGate
}

func (e *Engine) consultLLM(ctx context.Context, anomaly *models.Anomaly, causes []string, logs []models.LogEntry, events []models.Event) (string, error) {
	if e.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.LLMTimeout)
		defer cancel()
	}
	text, err := e.llm.Complete(ctx, BuildPrompt(anomaly, causes, logs, events))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}

// BuildPrompt renders the analysis request sent to the language model.
func BuildPrompt(anomaly *models.Anomaly, causes []string, logs []models.LogEntry, events []models.Event) string {
	hypotheses := "- No strong hypotheses yet"
	if len(causes) > 0 {
		lines := make([]string, len(causes))
		for i, c := range causes {
			lines[i] = "- " + c
		}
		hypotheses = strings.Join(lines, "\n")
	}
	logSummary := strings.Join(extractors.LogSummaries(logs, promptLineLimit), "\n")
	if logSummary == "" {
		logSummary = "No relevant logs"
	}
	eventSummary := strings.Join(extractors.EventDetails(events, promptLineLimit), "\n")
	if eventSummary == "" {
		eventSummary = "No recent events"
	}

	var b strings.Builder
	b.WriteString("Analyze this system anomaly and provide root cause insights.\n\n")
	b.WriteString("ANOMALY:\n")
	fmt.Fprintf(&b, "- Metric: %s\n", anomaly.MetricName)
	fmt.Fprintf(&b, "- Category: %s\n", anomaly.Category)
	fmt.Fprintf(&b, "- Current Value: %.4f\n", anomaly.CurrentValue)
	fmt.Fprintf(&b, "- Baseline Value: %.4f\n", anomaly.BaselineValue)
	fmt.Fprintf(&b, "- Deviation: %.2f sigma (%+.1f%%)\n", anomaly.Deviation, anomaly.DeviationPercent)
	fmt.Fprintf(&b, "- Duration: %d minutes\n\n", anomaly.DurationMinutes)
	b.WriteString("CURRENT HYPOTHESES:\n")
	b.WriteString(hypotheses)
	b.WriteString("\n\nRECENT LOGS:\n")
	b.WriteString(logSummary)
	b.WriteString("\n\nRECENT EVENTS:\n")
	b.WriteString(eventSummary)
	b.WriteString("\n\nBased on this information:\n")
	b.WriteString("1. What is the most likely root cause?\n")
	b.WriteString("2. What additional evidence should we look for?\n")
	b.WriteString("3. What immediate action should be taken?\n\n")
	b.WriteString("Keep response concise (max 200 words).")
	return b.String()
}

// suggestedActions flattens remediation from matched rules, keeping the first
// occurrence of each action/target pair, ordered by priority.
func suggestedActions(matches []RuleMatch) []models.SuggestedAction {
	actions := make([]models.SuggestedAction, 0)
	seen := make(map[string]struct{})
	for _, m := range matches {
		for _, r := range m.Rule.Remediation {
			key := r.Action + ":" + r.Target
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			actions = append(actions, models.SuggestedAction{
				Action:       r.Action,
				Target:       r.Target,
				Priority:     r.Priority,
				SourceRuleID: m.Rule.ID,
				Severity:     m.Rule.Severity,
			})
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority < actions[j].Priority
	})
	return actions
}

type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{items: make([]string, 0), seen: make(map[string]struct{})}
}

func (s *orderedSet) add(item string) {
	if item == "" {
		return
	}
	if _, ok := s.seen[item]; ok {
		return
	}
	s.seen[item] = struct{}{}
	s.items = append(s.items, item)
}

func seriesNames(series []models.MetricSeries) []string {
	names := make([]string, 0, len(series))
	for _, s := range series {
		names = append(names, s.Name)
	}
	return names
}

func headStrings(items []string, n int) []string {
	if len(items) > n {
		items = items[:n]
	}
	return append([]string(nil), items...)
}
