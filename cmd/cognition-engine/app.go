package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-cognition/internal/cache"
	"github.com/miradorstack/mirador-cognition/internal/config"
	"github.com/miradorstack/mirador-cognition/internal/detector"
	"github.com/miradorstack/mirador-cognition/internal/embedding"
	"github.com/miradorstack/mirador-cognition/internal/engine"
	"github.com/miradorstack/mirador-cognition/internal/history"
	"github.com/miradorstack/mirador-cognition/internal/knowledge"
	"github.com/miradorstack/mirador-cognition/internal/llm"
	"github.com/miradorstack/mirador-cognition/internal/monitor"
	"github.com/miradorstack/mirador-cognition/internal/repo"
	"github.com/miradorstack/mirador-cognition/internal/services"
)

// app holds the wired components shared by the serve and detect-once commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	cache    cache.Provider
	detector *detector.Detector
	rules    *engine.RuleEngine
	kb       *knowledge.KnowledgeBase
	store    *repo.SQLiteStateStore
	monitor  *monitor.Monitor
	llmModel string
}

// buildApp wires every component. On error everything opened so far is
// released before returning.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, cache: cache.NoopProvider{}}
	if cfg.Cache.Enabled {
		a.cache = cache.NewLRUProvider(cfg.Cache.Size, max(cfg.Cache.BaselineTTL, cfg.Cache.EmbeddingTTL))
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.State.Path != "" {
		a.store, err = repo.OpenStateStore(ctx, cfg.State.Path)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
	}

	signals := repo.NewSignalsClient(cfg.Clients.Signals, a.cache, cfg.Cache.BaselineTTL, logger)
	a.detector = detector.New(cfg.Detection, signals, logger)

	rules, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("load rule pack: %w", err)
	}
	a.rules = rules

	var completer engine.Completer
	if cfg.RCA.UseLLM {
		c, err := llm.NewAnthropicCompleter(cfg.LLM, nil, logger)
		switch {
		case errors.Is(err, llm.ErrNotConfigured):
			logger.Warn("llm analysis disabled: no api key configured")
		case err != nil:
			return nil, fmt.Errorf("create llm client: %w", err)
		default:
			completer = c
			a.llmModel = c.Model()
		}
	}
	rca := engine.NewEngine(cfg.RCA, rules, completer, logger)

	a.kb = knowledge.New(cfg.Knowledge, a.embedder(), a.vectorIndex(ctx), logger)
	if cfg.Knowledge.SeedPath != "" {
		n, err := a.kb.LoadSeed(ctx, cfg.Knowledge.SeedPath)
		if err != nil {
			logger.Warn("knowledge seed not loaded", slog.String("path", cfg.Knowledge.SeedPath), slog.Any("error", err))
		} else {
			logger.Info("knowledge seed loaded", slog.String("path", cfg.Knowledge.SeedPath), slog.Int("items", n))
		}
	}

	deps := monitor.Deps{
		Detector:  a.detector,
		Signals:   signals,
		Engine:    rca,
		Knowledge: a.kb,
	}
	if a.store != nil {
		deps.Store = a.store
	}
	if cfg.Knowledge.RecordResolved {
		var analyses history.AnalysisLookup
		if a.store != nil {
			analyses = a.store
		}
		deps.Recorder = history.NewRecorder(logger, a.kb, analyses)
	}

	a.monitor, err = monitor.New(monitor.Config{
		Interval:   cfg.Schedule.Interval,
		Lookback:   cfg.Schedule.Lookback,
		RCAWorkers: cfg.RCA.Workers,
	}, deps, logger)
	if err != nil {
		return nil, err
	}
	if n, err := a.monitor.Restore(ctx); err != nil {
		logger.Warn("active anomalies not restored", slog.Any("error", err))
	} else if n > 0 {
		logger.Info("restored active anomalies", slog.Int("count", n))
	}
	return a, nil
}

func (a *app) embedder() knowledge.Embedder {
	e, err := embedding.New(a.cfg.Embedding, a.cache, a.cfg.Cache.EmbeddingTTL, a.logger)
	if errors.Is(err, embedding.ErrNotConfigured) {
		a.logger.Warn("embedding service not configured; knowledge search uses keyword overlap")
		return nil
	}
	if err != nil {
		a.logger.Warn("embedding service unavailable", slog.Any("error", err))
		return nil
	}
	return e
}

func (a *app) vectorIndex(ctx context.Context) knowledge.VectorIndex {
	index, err := repo.NewWeaviateIndex(a.cfg.Weaviate, a.logger)
	if errors.Is(err, repo.ErrVectorIndexDisabled) {
		a.logger.Warn("weaviate not configured; knowledge base is in-memory only")
		return nil
	}
	if err != nil {
		a.logger.Warn("weaviate unavailable", slog.Any("error", err))
		return nil
	}
	if err := index.EnsureSchema(ctx); err != nil {
		a.logger.Warn("weaviate schema check failed", slog.Any("error", err))
	}
	return index
}

func (a *app) service() *services.CognitionService {
	return services.NewCognitionService(a.logger, a.detector, a.monitor, a.kb).
		WithStatusSources(a.detector.State(), a.rules, a.llmModel)
}

// Close releases the state store and cache.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("state store close failed", slog.Any("error", err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("cache close failed", slog.Any("error", err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}
