package extractors

import "github.com/miradorstack/mirador-cognition/internal/models"

// EventTypes returns the non-empty reasons of the supplied events, in order.
func EventTypes(events []models.Event) []string {
	types := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Reason != "" {
			types = append(types, ev.Reason)
		}
	}
	return types
}

// EventSummaries renders up to limit events as `kind/name: reason`.
func EventSummaries(events []models.Event, limit int) []string {
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind+"/"+ev.Name+": "+ev.Reason)
	}
	return out
}

// EventDetails renders up to limit events as `- kind/name: reason - message`,
// truncating messages to 100 characters.
func EventDetails(events []models.Event, limit int) []string {
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, "- "+ev.Kind+"/"+ev.Name+": "+ev.Reason+" - "+truncate(ev.Message, 100))
	}
	return out
}
