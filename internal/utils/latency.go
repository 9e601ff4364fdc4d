package utils

import (
	"math"
	"slices"
	"sync"
	"time"
)

// LatencySummary describes the durations currently held by a LatencyWindow.
// Total counts every observation, including ones already evicted.
type LatencySummary struct {
	Samples int           `json:"samples"`
	Total   uint64        `json:"total"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	Max     time.Duration `json:"max"`
}

// LatencyWindow keeps the most recent durations in a fixed-size ring.
type LatencyWindow struct {
	mu    sync.Mutex
	ring  []time.Duration
	next  int
	full  bool
	total uint64
}

// NewLatencyWindow returns a window holding up to size samples.
func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 256
	}
	return &LatencyWindow{ring: make([]time.Duration, size)}
}

// Observe records d, evicting the oldest sample once the ring is full. It
// returns the number of observations so far.
func (w *LatencyWindow) Observe(d time.Duration) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ring[w.next] = d
	w.next++
	if w.next == len(w.ring) {
		w.next = 0
		w.full = true
	}
	w.total++
	return w.total
}

// Summary returns nearest-rank percentiles over the retained samples.
func (w *LatencyWindow) Summary() LatencySummary {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.ring)
	}
	sorted := slices.Clone(w.ring[:n])
	total := w.total
	w.mu.Unlock()

	out := LatencySummary{Samples: n, Total: total}
	if n == 0 {
		return out
	}
	slices.Sort(sorted)
	out.P50 = nearestRank(sorted, 50)
	out.P95 = nearestRank(sorted, 95)
	out.Max = sorted[n-1]
	return out
}

func nearestRank(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}
