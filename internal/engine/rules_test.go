package engine

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testRulePack = `rules:
  - id: oom-pressure
    name: Memory pressure
    condition:
      primary_metric: cpu_usage
      primary_threshold: 80
      correlated_metrics:
        - metric: memory_usage
          threshold: 90
      log_patterns: ["oom", "killed"]
      event_type: OOMKilled
    root_cause: Container memory exhaustion
    remediation:
      - action: restart
        target: pod
        priority: 2
    severity: high
  - id: cpu-saturation
    name: CPU saturation
    condition:
      primary_metric: cpu_usage
      primary_threshold: 100
    root_cause: CPU saturation on node
    remediation:
      - action: scale
        target: deployment
  - id: disk-full
    name: Disk full
    condition:
      primary_metric: disk_usage
      primary_threshold: 95
    root_cause: Volume out of space
    severity: critical
correlations:
  - name: cpu-latency
    metrics: [cpu_usage, request_latency]
    expected_correlation: positive
    lag_minutes: 2
`

func writeRulePack(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestRuleEngineScoresAndOrdersMatches(t *testing.T) {
	engine, err := NewRuleEngine(writeRulePack(t, testRulePack), nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	if !engine.Loaded() {
		t.Fatalf("expected rule pack to be loaded")
	}

	matches := engine.FindMatchingRules("cpu_usage", 85,
		map[string]float64{"memory_usage": 95},
		[]string{"OOM", "timeout"},
		[]string{"OOMKilled"},
	)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Rule.ID != "oom-pressure" || matches[1].Rule.ID != "cpu-saturation" {
		t.Fatalf("unexpected order: %s, %s", matches[0].Rule.ID, matches[1].Rule.ID)
	}
	if want := 0.4 + 0.3 + 0.075 + 0.15; math.Abs(matches[0].Score-want) > 1e-9 {
		t.Fatalf("expected score %v, got %v", want, matches[0].Score)
	}
	if want := 0.2 * 0.85; math.Abs(matches[1].Score-want) > 1e-9 {
		t.Fatalf("expected partial score %v, got %v", want, matches[1].Score)
	}
}

func TestRuleEngineDefaults(t *testing.T) {
	engine, err := NewRuleEngine(writeRulePack(t, testRulePack), nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	var rule Rule
	for _, r := range engine.Rules() {
		if r.ID == "cpu-saturation" {
			rule = r
		}
	}
	if rule.ID == "" {
		t.Fatalf("expected rule to exist")
	}
	if rule.Severity != "medium" {
		t.Fatalf("expected default severity medium, got %s", rule.Severity)
	}
	if rule.Remediation[0].Priority != 1 {
		t.Fatalf("expected default priority 1, got %d", rule.Remediation[0].Priority)
	}
	if len(engine.Correlations()) != 1 || engine.Correlations()[0].LagMinutes != 2 {
		t.Fatalf("unexpected correlations: %+v", engine.Correlations())
	}
}

func TestRuleEngineBelowHalfThresholdDoesNotMatch(t *testing.T) {
	engine, err := NewRuleEngine(writeRulePack(t, testRulePack), nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	if matches := engine.FindMatchingRules("disk_usage", 40, nil, nil, nil); len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestRuleEngineNoFile(t *testing.T) {
	engine, err := NewRuleEngine(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err != nil {
		t.Fatalf("expected nil error for missing file, got %v", err)
	}
	if engine.Loaded() {
		t.Fatalf("expected empty engine")
	}
	if matches := engine.FindMatchingRules("cpu_usage", 99, nil, nil, nil); len(matches) != 0 {
		t.Fatalf("expected no matches from empty engine")
	}
}

func TestRuleEngineRejectsInvalidPack(t *testing.T) {
	path := writeRulePack(t, "rules:\n  - name: no id\n")
	if _, err := NewRuleEngine(path, nil); err == nil {
		t.Fatalf("expected error for rule without id")
	}
	path = writeRulePack(t, "rules:\n  - id: a\n    severity: urgent\n")
	if _, err := NewRuleEngine(path, nil); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}

func TestRuleEngineReloadKeepsPreviousPackOnError(t *testing.T) {
	path := writeRulePack(t, testRulePack)
	engine, err := NewRuleEngine(path, nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	if err := os.WriteFile(path, []byte("rules: [:"), 0o644); err != nil {
		t.Fatalf("overwrite rules: %v", err)
	}
	if err := engine.Reload(); err == nil {
		t.Fatalf("expected reload error")
	}
	if got := len(engine.Rules()); got != 3 {
		t.Fatalf("expected previous 3 rules to remain, got %d", got)
	}
}

func TestRuleEngineWatchReloadsOnChange(t *testing.T) {
	path := writeRulePack(t, testRulePack)
	engine, err := NewRuleEngine(path, nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	updated := testRulePack + `  - name: memory-latency
    metrics: [memory_usage, request_latency]
`
	for attempt := 0; attempt < 3 && len(engine.Correlations()) != 2; attempt++ {
		time.Sleep(100 * time.Millisecond)
		if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
			t.Fatalf("rewrite rules: %v", err)
		}
		waitUntil := time.Now().Add(2 * time.Second)
		for len(engine.Correlations()) != 2 && time.Now().Before(waitUntil) {
			time.Sleep(50 * time.Millisecond)
		}
	}
	if got := len(engine.Correlations()); got != 2 {
		t.Fatalf("expected reloaded pack with 2 correlations, got %d", got)
	}
}
