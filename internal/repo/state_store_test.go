package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/miradorstack/mirador-cognition/internal/models"
)

func openTestStore(t *testing.T, path string) *SQLiteStateStore {
	t.Helper()
	store, err := OpenStateStore(context.Background(), path)
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleAnomaly(id, metric string) models.Anomaly {
	started := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	return models.Anomaly{
		ID:              id,
		DetectedAt:      started.Add(5 * time.Minute),
		MetricName:      metric,
		Category:        models.CategoryDatabase,
		Labels:          map[string]string{"instance": "db-0"},
		CurrentValue:    120,
		BaselineValue:   40,
		Deviation:       5.2,
		Type:            models.AnomalyTypeTrend,
		Severity:        models.SeverityHigh,
		StartedAt:       started,
		DurationMinutes: 5,
		Active:          true,
		Acknowledged:    true,
		AcknowledgedBy:  "oncall",
		Context:         &models.AnomalyContext{PotentialCauses: []string{"slow queries"}},
	}
}

func TestStateStoreSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "cognition.db")
	store := openTestStore(t, path)

	want := []models.Anomaly{sampleAnomaly("ANO-1", "db_connections"), sampleAnomaly("ANO-2", "db_latency")}
	if err := store.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if err := store.SaveSnapshot(ctx, want[1:]); err != nil {
		t.Fatalf("replace snapshot: %v", err)
	}
	store.Close()

	reopened := openTestStore(t, path)
	got, err := reopened.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if diff := cmp.Diff(want[1:], got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestStateStoreAnalyses(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "cognition.db"))

	if got, err := store.LatestAnalysis(ctx, "ANO-1"); err != nil || got != nil {
		t.Fatalf("expected no analysis, got %+v, %v", got, err)
	}

	first := models.RCAResult{AnomalyID: "ANO-1", RootCauses: []string{"a"}, Confidence: 0.2, CreatedAt: time.Now().UTC()}
	second := models.RCAResult{AnomalyID: "ANO-1", RootCauses: []string{"b"}, Confidence: 0.6, CreatedAt: time.Now().UTC()}
	for _, r := range []models.RCAResult{first, second} {
		if err := store.SaveAnalysis(ctx, r); err != nil {
			t.Fatalf("save analysis: %v", err)
		}
	}
	got, err := store.LatestAnalysis(ctx, "ANO-1")
	if err != nil {
		t.Fatalf("latest analysis: %v", err)
	}
	if diff := cmp.Diff(&second, got); diff != "" {
		t.Fatalf("analysis mismatch (-want +got):\n%s", diff)
	}

	if err := store.DeleteAnalysis(ctx, "ANO-1"); err != nil {
		t.Fatalf("delete analysis: %v", err)
	}
	if got, _ := store.LatestAnalysis(ctx, "ANO-1"); got != nil {
		t.Fatalf("expected analysis to be deleted")
	}
	if err := store.SaveAnalysis(ctx, models.RCAResult{}); err == nil {
		t.Fatalf("expected error for analysis without anomaly id")
	}
}
