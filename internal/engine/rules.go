package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-cognition/internal/models"
)

const reloadDebounce = 500 * time.Millisecond

// RuleSource supplies cause hypotheses and metric correlation patterns.
type RuleSource interface {
	FindMatchingRules(metricName string, value float64, correlated map[string]float64, logPatterns, eventTypes []string) []RuleMatch
	Correlations() []CorrelationPattern
}

// Rule is a declarative root-cause hypothesis.
type Rule struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Condition   RuleCondition       `yaml:"condition"`
	RootCause   string              `yaml:"root_cause"`
	Remediation []RemediationAction `yaml:"remediation"`
	Severity    models.Severity     `yaml:"severity"`
}

// RuleCondition lists the evidence a rule looks for. Empty fields do not contribute.
type RuleCondition struct {
	PrimaryMetric     string             `yaml:"primary_metric"`
	PrimaryThreshold  float64            `yaml:"primary_threshold"`
	CorrelatedMetrics []CorrelatedMetric `yaml:"correlated_metrics"`
	LogPatterns       []string           `yaml:"log_patterns"`
	EventType         string             `yaml:"event_type"`
}

// CorrelatedMetric is satisfied when the named metric's latest value reaches Threshold.
type CorrelatedMetric struct {
	Metric      string  `yaml:"metric"`
	Threshold   float64 `yaml:"threshold"`
	Correlation string  `yaml:"correlation"`
}

// RemediationAction is a suggested operator step.
type RemediationAction struct {
	Action   string `yaml:"action"`
	Target   string `yaml:"target"`
	Priority int    `yaml:"priority"`
}

// CorrelationPattern names metrics expected to move together.
type CorrelationPattern struct {
	Name                string   `yaml:"name"`
	Metrics             []string `yaml:"metrics"`
	ExpectedCorrelation string   `yaml:"expected_correlation"`
	LagMinutes          int      `yaml:"lag_minutes"`
}

// RuleMatch pairs a rule with its match score.
type RuleMatch struct {
	Rule  Rule
	Score float64
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules        []Rule               `yaml:"rules"`
	Correlations []CorrelationPattern `yaml:"correlations"`
}

// RuleEngine holds the current rule pack and matches anomalies against it.
type RuleEngine struct {
	path   string
	logger *slog.Logger

	mu           sync.RWMutex
	rules        []Rule
	correlations []CorrelationPattern
	loaded       bool
}

// NewRuleEngine loads the rule pack at path. A missing file yields an empty
// engine rather than an error.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &RuleEngine{path: path, logger: logger}
	if path == "" {
		logger.Warn("no rca rule pack configured")
		return e, nil
	}
	if err := e.Reload(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("rca rule pack not found", slog.String("path", path))
			return e, nil
		}
		return nil, err
	}
	return e, nil
}

// NewRuleEngineFromConfig builds an engine around an in-memory pack.
func NewRuleEngineFromConfig(cfg RuleConfigFile, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &RuleEngine{logger: logger}
	e.swap(cfg)
	return e
}

// Reload re-reads the rule pack. On error the current pack is kept.
func (e *RuleEngine) Reload() error {
	cfg, err := loadRuleFile(e.path)
	if err != nil {
		return err
	}
	e.swap(cfg)
	e.logger.Info("loaded rca rules",
		slog.String("path", e.path),
		slog.Int("rules", len(cfg.Rules)),
		slog.Int("correlations", len(cfg.Correlations)),
	)
	return nil
}

func (e *RuleEngine) swap(cfg RuleConfigFile) {
	for i := range cfg.Rules {
		if cfg.Rules[i].Severity == "" {
			cfg.Rules[i].Severity = models.SeverityMedium
		}
		for j := range cfg.Rules[i].Remediation {
			if cfg.Rules[i].Remediation[j].Priority == 0 {
				cfg.Rules[i].Remediation[j].Priority = 1
			}
		}
	}
	for i := range cfg.Correlations {
		if cfg.Correlations[i].ExpectedCorrelation == "" {
			cfg.Correlations[i].ExpectedCorrelation = "positive"
		}
	}

	e.mu.Lock()
	e.rules = cfg.Rules
	e.correlations = cfg.Correlations
	e.loaded = true
	e.mu.Unlock()
}

func loadRuleFile(path string) (RuleConfigFile, error) {
	var cfg RuleConfigFile
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if r.ID == "" {
			return cfg, fmt.Errorf("rule pack %s: rule without id", path)
		}
		if _, dup := seen[r.ID]; dup {
			return cfg, fmt.Errorf("rule pack %s: duplicate rule id %q", path, r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Severity != "" {
			if _, ok := models.ParseSeverity(string(r.Severity)); !ok {
				return cfg, fmt.Errorf("rule pack %s: rule %s has unknown severity %q", path, r.ID, r.Severity)
			}
		}
	}
	return cfg, nil
}

// Loaded reports whether a rule pack has been read successfully.
func (e *RuleEngine) Loaded() bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Rules returns the current rules.
func (e *RuleEngine) Rules() []Rule {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Correlations returns the current correlation patterns.
func (e *RuleEngine) Correlations() []CorrelationPattern {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]CorrelationPattern(nil), e.correlations...)
}

// FindMatchingRules scores every rule against the evidence and returns those
// with a positive score, best first.
func (e *RuleEngine) FindMatchingRules(metricName string, value float64, correlated map[string]float64, logPatterns, eventTypes []string) []RuleMatch {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	found := make(map[string]struct{}, len(logPatterns))
	for _, p := range logPatterns {
		found[strings.ToLower(p)] = struct{}{}
	}

	matches := make([]RuleMatch, 0)
	for _, rule := range rules {
		score := matchScore(rule.Condition, metricName, value, correlated, found, eventTypes)
		if score > 0 {
			matches = append(matches, RuleMatch{Rule: rule, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func matchScore(cond RuleCondition, metricName string, value float64, correlated map[string]float64, logPatterns map[string]struct{}, eventTypes []string) float64 {
	score := 0.0

	if cond.PrimaryMetric != "" && cond.PrimaryMetric == metricName {
		if value >= cond.PrimaryThreshold {
			score += 0.4
		} else if cond.PrimaryThreshold > 0 {
			if ratio := value / cond.PrimaryThreshold; ratio > 0.5 {
				score += 0.2 * ratio
			}
		}
	}

	if n := len(cond.CorrelatedMetrics); n > 0 {
		hits := 0
		for _, cm := range cond.CorrelatedMetrics {
			if v, ok := correlated[cm.Metric]; ok && v >= cm.Threshold {
				hits++
			}
		}
		score += 0.3 * float64(hits) / float64(n)
	}

	if n := len(cond.LogPatterns); n > 0 {
		hits := 0
		for _, p := range cond.LogPatterns {
			if _, ok := logPatterns[strings.ToLower(p)]; ok {
				hits++
			}
		}
		score += 0.15 * float64(hits) / float64(n)
	}

	if cond.EventType != "" {
		for _, ev := range eventTypes {
			if ev == cond.EventType {
				score += 0.15
				break
			}
		}
	}
	return score
}

// Watch reloads the rule pack whenever its file changes until ctx is done.
// Bursts of events are coalesced and a pack that fails to parse is ignored.
func (e *RuleEngine) Watch(ctx context.Context) error {
	if e.path == "" {
		return errors.New("rule engine has no file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rule watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(e.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	e.logger.Info("watching rca rule pack", slog.String("path", target))

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := e.Reload(); err != nil {
				e.logger.Warn("rca rule reload failed, keeping previous pack", slog.Any("error", err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("rule watcher error", slog.Any("error", err))
		}
	}
}
