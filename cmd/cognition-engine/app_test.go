package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/mirador-cognition/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("MIRADOR_COGNITION_CONFIG", "")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.RCA.UseLLM = false
	cfg.Knowledge.SeedPath = ""
	cfg.Cache.Enabled = true
	return cfg
}

func TestBuildAppClosesStateStoreWhenRulesFail(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(rules, []byte("rules: [\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	cfg := testConfig(t)
	cfg.Rules.Path = rules
	cfg.State.Path = filepath.Join(dir, "state.db")

	a, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		a.Close()
		t.Fatalf("expected malformed rule pack to fail")
	}
	if _, statErr := os.Stat(cfg.State.Path); statErr != nil {
		t.Fatalf("expected state store to have been opened: %v", statErr)
	}
	// The write-ahead log is removed once the last connection closes.
	if _, statErr := os.Stat(cfg.State.Path + "-wal"); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected state store to be closed, wal stat: %v", statErr)
	}
}

func TestBuildAppFailsOnUnopenableStateStore(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	cfg := testConfig(t)
	cfg.Rules.Path = ""
	cfg.State.Path = filepath.Join(blocker, "state.db")

	if a, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		a.Close()
		t.Fatalf("expected state store error")
	}
}
