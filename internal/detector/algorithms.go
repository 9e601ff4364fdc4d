package detector

import (
	"log/slog"
	"math"
	"time"

	"github.com/miradorstack/mirador-cognition/internal/models"
)

type algorithmInput struct {
	value    float64
	baseline *models.Baseline
	at       time.Time
	values   []float64
}

// algorithmFunc scores one sample. ok is false when the algorithm lacks the
// data it needs; such algorithms neither vote nor report a score.
type algorithmFunc func(d *Detector, in algorithmInput) (score models.AnomalyScore, ok bool)

var algorithmTable = map[models.AlgorithmKind]algorithmFunc{
	models.AlgorithmZScore:          zscoreAlgorithm,
	models.AlgorithmMAD:             madAlgorithm,
	models.AlgorithmIsolationForest: forestAlgorithm,
}

// algorithmOrder fixes the order scores are reported in.
var algorithmOrder = []models.AlgorithmKind{
	models.AlgorithmZScore,
	models.AlgorithmMAD,
	models.AlgorithmIsolationForest,
}

func zscoreAlgorithm(d *Detector, in algorithmInput) (models.AnomalyScore, bool) {
	if in.baseline == nil {
		return models.AnomalyScore{}, false
	}
	threshold := d.cfg.ZScoreThreshold
	expected, std := in.baseline.ExpectedValue(in.at)
	if std <= 0 {
		return models.AnomalyScore{
			Algorithm: models.AlgorithmZScore,
			Threshold: threshold,
			Details:   map[string]float64{"zscore": 0, "expected": expected, "std": 0},
		}, true
	}
	z := math.Abs(in.value-expected) / std
	return models.AnomalyScore{
		Algorithm: models.AlgorithmZScore,
		Score:     math.Min(z/(threshold*2), 1),
		Threshold: threshold,
		IsAnomaly: z > threshold,
		Details:   map[string]float64{"zscore": z, "expected": expected, "std": std},
	}, true
}

func madAlgorithm(d *Detector, in algorithmInput) (models.AnomalyScore, bool) {
	if in.baseline == nil {
		return models.AnomalyScore{}, false
	}
	threshold := d.cfg.MADThreshold
	median := in.baseline.GlobalStats.Median
	mad := in.baseline.GlobalStats.MAD
	if mad <= 0 {
		return models.AnomalyScore{
			Algorithm: models.AlgorithmMAD,
			Threshold: threshold,
			Details:   map[string]float64{"modified_zscore": 0, "median": median, "mad": 0},
		}, true
	}
	modZ := 0.6745 * math.Abs(in.value-median) / mad
	return models.AnomalyScore{
		Algorithm: models.AlgorithmMAD,
		Score:     math.Min(modZ/(threshold*2), 1),
		Threshold: threshold,
		IsAnomaly: modZ > threshold,
		Details:   map[string]float64{"modified_zscore": modZ, "median": median, "mad": mad},
	}, true
}

func forestAlgorithm(d *Detector, in algorithmInput) (models.AnomalyScore, bool) {
	minHistory := d.cfg.Forest.MinHistory
	if minHistory <= 0 {
		minHistory = 100
	}
	if len(in.values) < minHistory {
		return models.AnomalyScore{}, false
	}
	forest := d.forestModel(in.values)
	raw := forest.score(in.value)
	return models.AnomalyScore{
		Algorithm: models.AlgorithmIsolationForest,
		Score:     math.Min(math.Max(raw+0.5, 0), 1),
		Threshold: 0.5,
		IsAnomaly: forest.isOutlier(in.value),
		Details:   map[string]float64{"raw_score": raw, "decision_threshold": forest.threshold},
	}, true
}

// forestModel trains the shared model on first use and returns it.
func (d *Detector) forestModel(values []float64) *isolationForest {
	d.forestOnce.Do(func() {
		fc := d.cfg.Forest
		d.forest = trainIsolationForest(values, fc.Trees, fc.SampleSize, fc.Contamination, fc.Seed)
		d.logger.Info("isolation forest trained", slog.Int("samples", len(values)), slog.Int("trees", len(d.forest.trees)))
	})
	return d.forest
}
