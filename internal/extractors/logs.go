package extractors

import (
	"strings"

	"github.com/miradorstack/mirador-cognition/internal/models"
)

// errorVocabulary lists the log signatures recognised as failure evidence.
var errorVocabulary = []string{
	"timeout", "deadline exceeded", "connection refused",
	"out of memory", "oom", "disk full", "no space left",
	"permission denied", "authentication failed",
	"rate limit", "throttled", "circuit breaker",
	"panic", "fatal", "crash", "killed",
}

// LogPatterns scans log messages for known failure signatures and explicit
// error codes. Results are deduplicated in order of first occurrence.
func LogPatterns(entries []models.LogEntry) []string {
	patterns := make([]string, 0)
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		patterns = append(patterns, p)
	}

	for _, entry := range entries {
		msg := strings.ToLower(entry.Message)
		for _, pattern := range errorVocabulary {
			if strings.Contains(msg, pattern) {
				add(pattern)
			}
		}
		if code := strings.TrimSpace(entry.ErrorCode); code != "" {
			add(code)
		}
	}
	return patterns
}

// LogSummaries renders up to limit log lines as `- [level] service: message`,
// truncating messages to 100 characters.
func LogSummaries(entries []models.LogEntry, limit int) []string {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, "- ["+e.Level+"] "+e.Service+": "+truncate(e.Message, 100))
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
