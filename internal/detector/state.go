package detector

import (
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-cognition/internal/models"
)

const maxResolvedHistory = 256

// ActiveFilter narrows GetActiveAnomalies. Zero fields match everything.
type ActiveFilter struct {
	Category models.Category
	Severity models.Severity
}

// State is the registry of currently active anomalies, keyed by metric key.
// At most one anomaly is active per key.
type State struct {
	mu          sync.RWMutex
	active      map[string]*models.Anomaly
	resolved    []models.Anomaly
	lastUpdated time.Time
}

// NewState returns an empty registry.
func NewState() *State {
	return &State{active: make(map[string]*models.Anomaly)}
}

// Upsert records a detection for the anomaly's metric key. An anomaly that is
// already active keeps its id, start time and acknowledgement; the duration is
// recomputed against now. The stored value is returned.
func (s *State) Upsert(a models.Anomaly, now time.Time) models.Anomaly {
	key := a.MetricKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.active[key]; ok {
		a.ID = existing.ID
		a.StartedAt = existing.StartedAt
		a.Acknowledged = existing.Acknowledged
		a.AcknowledgedBy = existing.AcknowledgedBy
		if a.Context == nil {
			a.Context = existing.Context
		}
	} else if a.StartedAt.IsZero() {
		a.StartedAt = now
	}
	a.Active = true
	a.DurationMinutes = durationMinutes(a.StartedAt, now)

	stored := a.Clone()
	s.active[key] = &stored
	s.lastUpdated = now
	return stored.Clone()
}

// Touch refreshes the duration of an active anomaly without a new detection.
func (s *State) Touch(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.active[key]; ok {
		a.DurationMinutes = durationMinutes(a.StartedAt, now)
	}
}

// Resolve removes the anomaly for key from the active set.
func (s *State) Resolve(key string, now time.Time) (models.Anomaly, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.active[key]
	if !ok {
		return models.Anomaly{}, false
	}
	delete(s.active, key)

	resolvedAt := now
	a.Active = false
	a.ResolvedAt = &resolvedAt
	a.DurationMinutes = durationMinutes(a.StartedAt, now)

	s.resolved = append(s.resolved, a.Clone())
	if len(s.resolved) > maxResolvedHistory {
		s.resolved = s.resolved[len(s.resolved)-maxResolvedHistory:]
	}
	s.lastUpdated = now
	return a.Clone(), true
}

// Get returns a copy of the active anomaly for key.
func (s *State) Get(key string) (models.Anomaly, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.active[key]
	if !ok {
		return models.Anomaly{}, false
	}
	return a.Clone(), true
}

// FindByID returns a copy of the active anomaly with the given id.
func (s *State) FindByID(id string) (models.Anomaly, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.active {
		if a.ID == id {
			return a.Clone(), true
		}
	}
	return models.Anomaly{}, false
}

// Keys returns the metric keys of all active anomalies.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.active))
	for k := range s.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of active anomalies.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Acknowledge marks the active anomaly with id as acknowledged by who.
// It returns false when no active anomaly has that id.
func (s *State) Acknowledge(id, who string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.active {
		if a.ID == id {
			a.Acknowledged = true
			a.AcknowledgedBy = who
			return true
		}
	}
	return false
}

// SetContext attaches RCA context to the active anomaly with id.
func (s *State) SetContext(id string, ctx *models.AnomalyContext) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.active {
		if a.ID == id {
			a.Context = ctx
			return true
		}
	}
	return false
}

// Active returns copies of the active anomalies matching filter, newest
// detection first.
func (s *State) Active(filter ActiveFilter) []models.Anomaly {
	s.mu.RLock()
	out := make([]models.Anomaly, 0, len(s.active))
	for _, a := range s.active {
		if filter.Category != "" && a.Category != filter.Category {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		out = append(out, a.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}

// Resolved returns the bounded history of resolved anomalies, oldest first.
func (s *State) Resolved() []models.Anomaly {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Anomaly, len(s.resolved))
	for i := range s.resolved {
		out[i] = s.resolved[i].Clone()
	}
	return out
}

// Snapshot returns copies of all active anomalies for persistence.
func (s *State) Snapshot() []models.Anomaly {
	return s.Active(ActiveFilter{})
}

// Restore replaces the active set with previously persisted anomalies.
func (s *State) Restore(anomalies []models.Anomaly) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]*models.Anomaly, len(anomalies))
	for _, a := range anomalies {
		stored := a.Clone()
		stored.Active = true
		s.active[stored.MetricKey()] = &stored
	}
}

// LastUpdated returns when the registry last changed.
func (s *State) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

func durationMinutes(start, now time.Time) int {
	if now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / time.Minute)
}
