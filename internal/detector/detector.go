package detector

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-cognition/internal/config"
	"github.com/miradorstack/mirador-cognition/internal/extractors"
	"github.com/miradorstack/mirador-cognition/internal/metrics"
	"github.com/miradorstack/mirador-cognition/internal/models"
)

// hysteresisFactor scales the z-score threshold below which an active anomaly resolves.
const hysteresisFactor = 0.7

// BaselineProvider supplies the seasonal expectation for a metric.
// A nil baseline with a nil error means none is known yet.
type BaselineProvider interface {
	GetBaseline(ctx context.Context, name string, labels map[string]string) (*models.Baseline, error)
}

// Detector runs the algorithm ensemble over metric series and tracks the
// lifecycle of the anomalies it finds.
type Detector struct {
	cfg       config.DetectionConfig
	baselines BaselineProvider
	logger    *slog.Logger
	state     *State
	enabled   []models.AlgorithmKind

	forestOnce sync.Once
	forest     *isolationForest
}

// New constructs a Detector. baselines may be nil, in which case only
// history-based algorithms can vote.
func New(cfg config.DetectionConfig, baselines BaselineProvider, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ZScoreThreshold <= 0 {
		cfg.ZScoreThreshold = 3.0
	}
	if cfg.MADThreshold <= 0 {
		cfg.MADThreshold = 3.5
	}
	if cfg.EnsembleMinVotes <= 0 {
		cfg.EnsembleMinVotes = 2
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Forest.Contamination <= 0 || cfg.Forest.Contamination >= 0.5 {
		cfg.Forest.Contamination = 0.1
	}

	requested := make(map[models.AlgorithmKind]struct{}, len(cfg.Algorithms))
	for _, name := range cfg.Algorithms {
		requested[models.AlgorithmKind(name)] = struct{}{}
	}
	enabled := make([]models.AlgorithmKind, 0, len(requested))
	for _, kind := range algorithmOrder {
		if _, ok := requested[kind]; ok {
			enabled = append(enabled, kind)
		}
	}
	for name := range requested {
		if _, ok := algorithmTable[name]; !ok {
			logger.Warn("ignoring unknown detection algorithm", slog.String("algorithm", string(name)))
		}
	}

	return &Detector{
		cfg:       cfg,
		baselines: baselines,
		logger:    logger,
		state:     NewState(),
		enabled:   enabled,
	}
}

// State exposes the active-anomaly registry.
func (d *Detector) State() *State {
	return d.state
}

// Detect evaluates every non-empty series at detection time now, upserts voted
// anomalies into the registry and then resolves active anomalies whose live
// z-score has fallen below the hysteresis band. It never returns an error:
// collaborator failures only remove the algorithms that depend on them.
func (d *Detector) Detect(ctx context.Context, series []models.MetricSeries, now time.Time) models.AnomalyBatch {
	started := time.Now()
	if now.IsZero() {
		now = started.UTC()
	}

	baselines := make([]*models.Baseline, len(series))
	found := make([]*models.Anomaly, len(series))
	checked := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i := range series {
		if len(series[i].Points) == 0 {
			continue
		}
		checked++
		i := i
		g.Go(func() error {
			baselines[i] = d.fetchBaseline(gctx, series[i])
			candidate := d.evaluate(series[i], baselines[i], now)
			if candidate == nil {
				return nil
			}
			stored := d.state.Upsert(*candidate, now)
			found[i] = &stored
			return nil
		})
	}
	_ = g.Wait()

	batch := models.AnomalyBatch{
		DetectionTime:  now,
		Anomalies:      make([]models.Anomaly, 0),
		MetricsChecked: checked,
	}
	bySeverity := make(map[string]int)
	for _, a := range found {
		if a == nil {
			continue
		}
		batch.Anomalies = append(batch.Anomalies, *a)
		bySeverity[string(a.Severity)]++
	}

	batch.Resolved = d.resolve(series, baselines, now)

	elapsed := time.Since(started)
	batch.DetectionDurationMs = elapsed.Milliseconds()
	metrics.ObserveDetection(elapsed, checked, bySeverity, len(batch.Resolved), d.state.Len())

	if len(batch.Anomalies) > 0 {
		d.logger.Info("detected anomalies",
			slog.Int("count", len(batch.Anomalies)),
			slog.Int("critical", batch.CriticalCount()),
			slog.Int64("duration_ms", batch.DetectionDurationMs),
		)
	}
	return batch
}

// AcknowledgeAnomaly marks an active anomaly as acknowledged. Unknown ids
// return false.
func (d *Detector) AcknowledgeAnomaly(id, who string) bool {
	return d.state.Acknowledge(id, who)
}

// GetActiveAnomalies returns active anomalies matching filter, most recently
// detected first.
func (d *Detector) GetActiveAnomalies(filter ActiveFilter) []models.Anomaly {
	return d.state.Active(filter)
}

func (d *Detector) fetchBaseline(ctx context.Context, s models.MetricSeries) *models.Baseline {
	if d.baselines == nil {
		return nil
	}
	if d.cfg.BaselineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.BaselineTimeout)
		defer cancel()
	}
	baseline, err := d.baselines.GetBaseline(ctx, s.Name, s.Labels)
	if err != nil {
		d.logger.Warn("baseline unavailable", slog.String("metric", s.Key()), slog.Any("error", err))
		return nil
	}
	return baseline
}

func (d *Detector) evaluate(s models.MetricSeries, baseline *models.Baseline, now time.Time) *models.Anomaly {
	value, ok := s.LatestValue()
	if !ok {
		return nil
	}
	values := s.Values()
	in := algorithmInput{value: value, baseline: baseline, at: now, values: values}

	scores := make([]models.AnomalyScore, 0, len(d.enabled))
	for _, kind := range d.enabled {
		score, ok := algorithmTable[kind](d, in)
		if !ok {
			continue
		}
		scores = append(scores, score)
	}
	if !ensembleVote(scores, d.cfg.EnsembleMinVotes) {
		return nil
	}

	expected, deviation, deviationPercent := deviationFrom(value, baseline, values, now)
	return &models.Anomaly{
		ID:               newAnomalyID(),
		DetectedAt:       now,
		MetricName:       s.Name,
		Category:         s.Category,
		Labels:           s.Labels,
		CurrentValue:     value,
		BaselineValue:    expected,
		Deviation:        deviation,
		DeviationPercent: deviationPercent,
		Type:             ClassifyType(values),
		Severity:         ClassifySeverity(deviation, s.Category),
		Scores:           scores,
		EnsembleScore:    ensembleScore(scores),
	}
}

// resolve drops active anomalies whose series is present this cycle and whose
// live z-score is below the hysteresis band. Anomalies without a usable
// baseline stay active.
func (d *Detector) resolve(series []models.MetricSeries, baselines []*models.Baseline, now time.Time) []models.Anomaly {
	index := make(map[string]int, len(series))
	for i, s := range series {
		index[s.Key()] = i
	}

	resolved := make([]models.Anomaly, 0)
	cutoff := d.cfg.ZScoreThreshold * hysteresisFactor
	for _, key := range d.state.Keys() {
		i, ok := index[key]
		if !ok {
			continue
		}
		value, ok := series[i].LatestValue()
		baseline := baselines[i]
		if !ok || baseline == nil {
			d.state.Touch(key, now)
			continue
		}
		expected, std := baseline.ExpectedValue(now)
		if std <= 0 {
			d.state.Touch(key, now)
			continue
		}
		if z := math.Abs(value-expected) / std; z >= cutoff {
			d.state.Touch(key, now)
			continue
		}
		a, ok := d.state.Resolve(key, now)
		if !ok {
			continue
		}
		d.logger.Info("anomaly resolved",
			slog.String("metric", key),
			slog.String("anomaly_id", a.ID),
			slog.Int("duration_minutes", a.DurationMinutes),
		)
		resolved = append(resolved, a)
	}
	return resolved
}

func ensembleVote(scores []models.AnomalyScore, minVotes int) bool {
	votes := 0
	for _, s := range scores {
		if s.IsAnomaly {
			votes++
		}
	}
	return votes >= minVotes
}

// ensembleScore averages the positive scores; 0 when none are positive.
func ensembleScore(scores []models.AnomalyScore) float64 {
	sum, n := 0.0, 0
	for _, s := range scores {
		if s.Score > 0 {
			sum += s.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// deviationFrom measures the value against the baseline, falling back to the
// series' own mean and std (with no percentage) when no baseline exists.
func deviationFrom(value float64, baseline *models.Baseline, values []float64, now time.Time) (expected, deviation, percent float64) {
	if baseline != nil {
		var std float64
		expected, std = baseline.ExpectedValue(now)
		if std > 0 {
			deviation = (value - expected) / std
		}
		if expected != 0 {
			percent = (value - expected) / expected * 100
		}
		return expected, deviation, percent
	}
	expected = extractors.Mean(values)
	if std := extractors.StdDev(values); std > 0 {
		deviation = (value - expected) / std
	}
	return expected, deviation, 0
}

func newAnomalyID() string {
	return "ANO-" + uuid.NewString()[:8]
}
