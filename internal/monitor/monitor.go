package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-cognition/internal/detector"
	"github.com/miradorstack/mirador-cognition/internal/models"
	"github.com/miradorstack/mirador-cognition/internal/utils"
)

// Evidence sources this package adds to RCAResult.DegradedSources.
const (
	SourceMetrics = "metrics"
	SourceLogs    = "logs"
	SourceEvents  = "events"
)

const (
	logFetchLimit   = 200
	eventFetchLimit = 50
)

// ErrUnknownAnomaly is returned when no active anomaly has the requested id.
var ErrUnknownAnomaly = errors.New("unknown anomaly")

// SignalSource reads the signals consulted during detection and analysis.
type SignalSource interface {
	FetchMetrics(ctx context.Context, start, end time.Time) ([]models.MetricSeries, error)
	FetchLogs(ctx context.Context, labels map[string]string, start, end time.Time, limit int) ([]models.LogEntry, error)
	FetchEvents(ctx context.Context, labels map[string]string, start, end time.Time, limit int) ([]models.Event, error)
}

// Analyzer performs root-cause analysis for one anomaly.
type Analyzer interface {
	Analyze(ctx context.Context, anomaly *models.Anomaly, related []models.MetricSeries, logs []models.LogEntry, events []models.Event) models.RCAResult
}

// Knowledge finds historical incidents resembling an anomaly.
type Knowledge interface {
	FindSimilarToAnomaly(ctx context.Context, metric string, deviation float64, severity models.Severity, limit int) []models.SearchResult
}

// Recorder turns resolved anomalies into incidents.
type Recorder interface {
	Record(ctx context.Context, resolved []models.Anomaly) []string
}

// StateStore persists the active set and the latest analysis per anomaly.
type StateStore interface {
	SaveSnapshot(ctx context.Context, anomalies []models.Anomaly) error
	LoadSnapshot(ctx context.Context) ([]models.Anomaly, error)
	SaveAnalysis(ctx context.Context, result models.RCAResult) error
	LatestAnalysis(ctx context.Context, anomalyID string) (*models.RCAResult, error)
	DeleteAnalysis(ctx context.Context, anomalyID string) error
}

// Config tunes the monitoring loop.
type Config struct {
	Interval   time.Duration
	Lookback   time.Duration
	RCAWorkers int
}

// Deps wires the collaborators. Knowledge, Recorder and Store are optional.
type Deps struct {
	Detector  *detector.Detector
	Signals   SignalSource
	Engine    Analyzer
	Knowledge Knowledge
	Recorder  Recorder
	Store     StateStore
}

// CycleReport summarises one monitoring cycle.
type CycleReport struct {
	Batch    models.AnomalyBatch
	Analyses []models.RCAResult
	Recorded []string
}

// Monitor runs detection and analysis on a schedule.
type Monitor struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	cycleMu sync.Mutex
}

// New constructs a Monitor.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Monitor, error) {
	if deps.Detector == nil || deps.Signals == nil || deps.Engine == nil {
		return nil, errors.New("monitor requires a detector, a signal source and an rca engine")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = time.Hour
	}
	if cfg.RCAWorkers <= 0 {
		cfg.RCAWorkers = 4
	}
	return &Monitor{cfg: cfg, deps: deps, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Restore loads the persisted active set into the detector registry.
func (m *Monitor) Restore(ctx context.Context) (int, error) {
	if m.deps.Store == nil {
		return 0, nil
	}
	anomalies, err := m.deps.Store.LoadSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore anomaly state: %w", err)
	}
	m.deps.Detector.State().Restore(anomalies)
	return len(anomalies), nil
}

// Run executes a cycle immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := m.RunCycle(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("monitoring cycle skipped", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle fetches metrics, detects anomalies, analyses each detected anomaly,
// records resolved anomalies and persists the active set. Only a failed metric
// fetch aborts the cycle.
func (m *Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	now := m.now()
	start, end := utils.Window(now, m.cfg.Lookback)
	series, err := m.deps.Signals.FetchMetrics(ctx, start, end)
	if err != nil {
		return CycleReport{}, fmt.Errorf("fetch metrics: %w", err)
	}

	report := CycleReport{Batch: m.deps.Detector.Detect(ctx, series, now)}
	report.Analyses = make([]models.RCAResult, len(report.Batch.Anomalies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.RCAWorkers)
	for i := range report.Batch.Anomalies {
		i := i
		g.Go(func() error {
			report.Analyses[i] = m.analyze(gctx, &report.Batch.Anomalies[i], series, start, end)
			return nil
		})
	}
	_ = g.Wait()

	if m.deps.Recorder != nil && len(report.Batch.Resolved) > 0 {
		report.Recorded = m.deps.Recorder.Record(ctx, report.Batch.Resolved)
	}
	m.forgetAnalyses(ctx, report.Batch.Resolved)
	m.persist(ctx)

	m.logger.Debug("monitoring cycle complete",
		slog.Int("metrics_checked", report.Batch.MetricsChecked),
		slog.Int("anomalies", len(report.Batch.Anomalies)),
		slog.Int("resolved", len(report.Batch.Resolved)),
	)
	return report, nil
}

// AnalyzeAnomaly runs a fresh analysis for the active anomaly with id.
func (m *Monitor) AnalyzeAnomaly(ctx context.Context, id string) (models.RCAResult, error) {
	anomaly, ok := m.deps.Detector.State().FindByID(id)
	if !ok {
		return models.RCAResult{}, fmt.Errorf("%w: %s", ErrUnknownAnomaly, id)
	}
	start, end := utils.Window(m.now(), m.cfg.Lookback)
	series, err := m.deps.Signals.FetchMetrics(ctx, start, end)
	metricsFailed := err != nil
	if metricsFailed {
		m.logger.Warn("metric fetch failed, analysing without related series",
			slog.String("anomaly_id", id), slog.Any("error", err))
	}

	result := m.analyze(ctx, &anomaly, series, start, end)
	if metricsFailed {
		result.DegradedSources = append(result.DegradedSources, SourceMetrics)
	}
	return result, nil
}

// LatestAnalysis returns the stored analysis for an anomaly, or nil.
func (m *Monitor) LatestAnalysis(ctx context.Context, id string) (*models.RCAResult, error) {
	if m.deps.Store == nil {
		return nil, nil
	}
	return m.deps.Store.LatestAnalysis(ctx, id)
}

func (m *Monitor) analyze(ctx context.Context, anomaly *models.Anomaly, series []models.MetricSeries, start, end time.Time) models.RCAResult {
	var degraded []string
	logs, err := m.deps.Signals.FetchLogs(ctx, anomaly.Labels, start, end, logFetchLimit)
	if err != nil {
		m.logger.Warn("log fetch failed", slog.String("anomaly_id", anomaly.ID), slog.Any("error", err))
		degraded = append(degraded, SourceLogs)
	}
	events, err := m.deps.Signals.FetchEvents(ctx, anomaly.Labels, start, end, eventFetchLimit)
	if err != nil {
		m.logger.Warn("event fetch failed", slog.String("anomaly_id", anomaly.ID), slog.Any("error", err))
		degraded = append(degraded, SourceEvents)
	}

	result := m.deps.Engine.Analyze(ctx, anomaly, series, logs, events)
	result.DegradedSources = append(result.DegradedSources, degraded...)

	if anomaly.Context == nil {
		anomaly.Context = &models.AnomalyContext{}
	}
	if m.deps.Knowledge != nil {
		similar := m.deps.Knowledge.FindSimilarToAnomaly(ctx, anomaly.MetricName, anomaly.Deviation, anomaly.Severity, 0)
		ids := make([]string, 0, len(similar))
		for _, s := range similar {
			ids = append(ids, s.ID())
		}
		anomaly.Context.SimilarIncidents = ids
	}
	m.deps.Detector.State().SetContext(anomaly.ID, anomaly.Context)

	if m.deps.Store != nil {
		if err := m.deps.Store.SaveAnalysis(ctx, result); err != nil {
			m.logger.Warn("persist analysis failed", slog.String("anomaly_id", anomaly.ID), slog.Any("error", err))
		}
	}
	return result
}

// forgetAnalyses drops stored analyses of resolved anomalies once the
// recorder has consumed them.
func (m *Monitor) forgetAnalyses(ctx context.Context, resolved []models.Anomaly) {
	if m.deps.Store == nil {
		return
	}
	for _, a := range resolved {
		if err := m.deps.Store.DeleteAnalysis(ctx, a.ID); err != nil {
			m.logger.Warn("delete analysis failed", slog.String("anomaly_id", a.ID), slog.Any("error", err))
		}
	}
}

func (m *Monitor) persist(ctx context.Context) {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.SaveSnapshot(ctx, m.deps.Detector.State().Snapshot()); err != nil {
		m.logger.Warn("persist anomaly state failed", slog.Any("error", err))
	}
}
