package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (collaborator or pipeline issues).
	OutcomeError = "error"
	// OutcomeSkipped labels operations that were not attempted.
	OutcomeSkipped = "skipped"
)

const namespace = "mirador_cognition"

var (
	detectionCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_cycle_seconds",
			Help:      "Duration of one detection pass over all metric series.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	metricsCheckedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_checked_total",
			Help:      "Total number of metric series evaluated by the detector.",
		},
	)

	anomaliesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Anomalies reported by the detector, partitioned by severity.",
		},
		[]string{"severity"},
	)

	anomaliesResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_resolved_total",
			Help:      "Anomalies resolved by the hysteresis pass.",
		},
	)

	activeAnomalies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_anomalies",
			Help:      "Number of currently active anomalies.",
		},
	)

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rca_analyses_total",
			Help:      "Root-cause analyses performed, partitioned by whether any cause was found.",
		},
		[]string{"outcome"},
	)

	analysisConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rca_confidence",
			Help:      "Confidence of root-cause analyses.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rca_seconds",
			Help:      "Root-cause analysis latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Advisory LLM requests, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	knowledgeSearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_searches_total",
			Help:      "Knowledge-base searches, partitioned by item type and the path that served them.",
		},
		[]string{"item_type", "path"},
	)

	knowledgeWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_write_failures_total",
			Help:      "Best-effort knowledge-base write steps that failed, partitioned by stage.",
		},
		[]string{"stage"},
	)
)

// Register attaches mirador-cognition collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		detectionCycleSeconds,
		metricsCheckedTotal,
		anomaliesDetectedTotal,
		anomaliesResolvedTotal,
		activeAnomalies,
		analysesTotal,
		analysisConfidence,
		analysisDurationSeconds,
		llmRequestsTotal,
		knowledgeSearchesTotal,
		knowledgeWriteFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDetection records one detection cycle.
func ObserveDetection(duration time.Duration, checked int, detectedBySeverity map[string]int, resolved, active int) {
	if duration < 0 {
		duration = 0
	}
	detectionCycleSeconds.Observe(duration.Seconds())
	metricsCheckedTotal.Add(float64(checked))
	for severity, n := range detectedBySeverity {
		anomaliesDetectedTotal.WithLabelValues(severity).Add(float64(n))
	}
	anomaliesResolvedTotal.Add(float64(resolved))
	activeAnomalies.Set(float64(active))
}

// ObserveAnalysis records an RCA run.
func ObserveAnalysis(duration time.Duration, confidence float64, foundCause bool) {
	label := OutcomeSuccess
	if !foundCause {
		label = OutcomeSkipped
	}
	analysesTotal.WithLabelValues(label).Inc()
	analysisConfidence.Observe(confidence)
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveLLM records the outcome of an advisory LLM call.
func ObserveLLM(outcome string) {
	llmRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveKnowledgeSearch records which path served a knowledge-base search.
func ObserveKnowledgeSearch(itemType, path string) {
	knowledgeSearchesTotal.WithLabelValues(itemType, path).Inc()
}

// ObserveKnowledgeWriteFailure records a failed best-effort write stage.
func ObserveKnowledgeWriteFailure(stage string) {
	knowledgeWriteFailuresTotal.WithLabelValues(stage).Inc()
}
