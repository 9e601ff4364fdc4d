package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveDetectionUpdatesGauge(t *testing.T) {
	ObserveDetection(10*time.Millisecond, 3, map[string]int{"critical": 1}, 0, 4)
	if got := testutil.ToFloat64(activeAnomalies); got != 4 {
		t.Fatalf("expected active gauge 4, got %v", got)
	}
	before := testutil.ToFloat64(llmRequestsTotal.WithLabelValues(OutcomeError))
	ObserveLLM(OutcomeError)
	if got := testutil.ToFloat64(llmRequestsTotal.WithLabelValues(OutcomeError)); got != before+1 {
		t.Fatalf("expected llm error counter to increase")
	}
}
