package history

import (
	"context"

	"github.com/miradorstack/mirador-cognition/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, incident *models.Incident) string

// AddIncident implements Store.
func (f StoreFunc) AddIncident(ctx context.Context, incident *models.Incident) string {
	return f(ctx, incident)
}
