package knowledge

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-cognition/internal/models"
)

type seedFile struct {
	Incidents []seedIncident `yaml:"incidents"`
	Runbooks  []seedRunbook  `yaml:"runbooks"`
}

type seedIncident struct {
	ID               string    `yaml:"id"`
	Title            string    `yaml:"title"`
	Description      string    `yaml:"description"`
	RootCause        string    `yaml:"root_cause"`
	Resolution       string    `yaml:"resolution"`
	MetricsAffected  []string  `yaml:"metrics_affected"`
	ServicesAffected []string  `yaml:"services_affected"`
	Severity         string    `yaml:"severity"`
	DurationMinutes  int       `yaml:"duration_minutes"`
	OccurredAt       time.Time `yaml:"occurred_at"`
	Tags             []string  `yaml:"tags"`
}

type seedRunbook struct {
	ID                string   `yaml:"id"`
	Title             string   `yaml:"title"`
	Description       string   `yaml:"description"`
	TriggerConditions []string `yaml:"trigger_conditions"`
	Steps             []string `yaml:"steps"`
	Tags              []string `yaml:"tags"`
}

// LoadSeed reads a YAML file of incidents and runbooks and adds each to the
// knowledge base. It returns the number of items added.
func (kb *KnowledgeBase) LoadSeed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read knowledge seed: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse knowledge seed %s: %w", path, err)
	}

	added := 0
	for _, s := range seed.Incidents {
		severity, ok := models.ParseSeverity(s.Severity)
		if !ok {
			severity = models.SeverityMedium
		}
		kb.AddIncident(ctx, &models.Incident{
			ID:               s.ID,
			Title:            s.Title,
			Description:      s.Description,
			RootCause:        s.RootCause,
			Resolution:       s.Resolution,
			MetricsAffected:  s.MetricsAffected,
			ServicesAffected: s.ServicesAffected,
			Severity:         severity,
			DurationMinutes:  s.DurationMinutes,
			OccurredAt:       s.OccurredAt,
			Tags:             s.Tags,
		})
		added++
	}
	for _, s := range seed.Runbooks {
		kb.AddRunbook(ctx, &models.Runbook{
			ID:                s.ID,
			Title:             s.Title,
			Description:       s.Description,
			TriggerConditions: s.TriggerConditions,
			Steps:             s.Steps,
			Tags:              s.Tags,
		})
		added++
	}
	return added, nil
}
