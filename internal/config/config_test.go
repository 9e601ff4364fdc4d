package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_COGNITION_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Detection.ZScoreThreshold != 3.0 || cfg.Detection.MADThreshold != 3.5 || cfg.Detection.EnsembleMinVotes != 2 {
		t.Fatalf("unexpected detection defaults: %+v", cfg.Detection)
	}
	if cfg.RCA.LLMConfidenceGate != 0.7 {
		t.Fatalf("expected LLM gate 0.7, got %v", cfg.RCA.LLMConfidenceGate)
	}
	if cfg.Embedding.Offline {
		t.Fatalf("offline embeddings must be opt-in")
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`detection:
  zscoreThreshold: 2.5
  algorithms: ["zscore", "mad"]
schedule:
  interval: 30s
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MIRADOR_COGNITION_MIN_VOTES", "1")
	t.Setenv("MIRADOR_COGNITION_EMBEDDING_OFFLINE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Detection.ZScoreThreshold != 2.5 {
		t.Fatalf("expected file threshold 2.5, got %v", cfg.Detection.ZScoreThreshold)
	}
	if len(cfg.Detection.Algorithms) != 2 {
		t.Fatalf("expected two algorithms, got %v", cfg.Detection.Algorithms)
	}
	if cfg.Detection.EnsembleMinVotes != 1 {
		t.Fatalf("expected env min votes 1, got %d", cfg.Detection.EnsembleMinVotes)
	}
	if !cfg.Embedding.Offline {
		t.Fatalf("expected env to enable offline embeddings")
	}
	if cfg.Schedule.Interval != 30*time.Second {
		t.Fatalf("expected 30s interval, got %v", cfg.Schedule.Interval)
	}
}

func TestLoadRejectsUnknownAlgorithm(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("detection:\n  algorithms: [\"prophet\"]\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadKeepsExplicitZeroGates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("rca:\n  llmConfidenceGate: 0\nknowledge:\n  minScore: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RCA.LLMConfidenceGate != 0 {
		t.Fatalf("expected explicit LLM gate 0, got %v", cfg.RCA.LLMConfidenceGate)
	}
	if cfg.Knowledge.MinScore != 0 {
		t.Fatalf("expected explicit min score 0, got %v", cfg.Knowledge.MinScore)
	}
}
