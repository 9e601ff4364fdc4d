package detector

import (
	"math"

	"github.com/miradorstack/mirador-cognition/internal/extractors"
	"github.com/miradorstack/mirador-cognition/internal/models"
)

var categoryWeights = map[models.Category]float64{
	models.CategoryTrading:        1.5,
	models.CategoryMatching:       1.5,
	models.CategoryRisk:           2.0,
	models.CategoryWallet:         2.0,
	models.CategoryAPI:            1.2,
	models.CategoryInfrastructure: 1.0,
	models.CategoryDatabase:       1.3,
	models.CategoryQueue:          1.2,
	models.CategoryBusiness:       1.0,
}

// CategoryWeight returns the severity multiplier for a category (1.0 when unknown).
func CategoryWeight(c models.Category) float64 {
	if w, ok := categoryWeights[c]; ok {
		return w
	}
	return 1.0
}

// ClassifySeverity maps a deviation to a severity using the category weight.
func ClassifySeverity(deviation float64, category models.Category) models.Severity {
	return severityForWeighted(math.Abs(deviation) * CategoryWeight(category))
}

func severityForWeighted(weighted float64) models.Severity {
	switch {
	case weighted >= 5.0:
		return models.SeverityCritical
	case weighted >= 4.0:
		return models.SeverityHigh
	case weighted >= 3.0:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// ClassifyType returns Trend when the last five values move strictly in one
// direction and the series has at least ten points.
func ClassifyType(values []float64) models.AnomalyType {
	if len(values) < 10 {
		return models.AnomalyTypePoint
	}
	if extractors.IsMonotonic(extractors.Tail(values, 5)) {
		return models.AnomalyTypeTrend
	}
	return models.AnomalyTypePoint
}
