package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-cognition/internal/cache"
	"github.com/miradorstack/mirador-cognition/internal/config"
	"github.com/miradorstack/mirador-cognition/internal/models"
)

// errNotFound marks a 404 from the signals backend.
var errNotFound = errors.New("not found")

// SignalsClient reads metric series, baselines, logs and events from the
// signals backend.
type SignalsClient struct {
	baseURL       string
	metricsPath   string
	baselinesPath string
	logsPath      string
	eventsPath    string
	httpClient    *http.Client
	cache         cache.Provider
	baselineTTL   time.Duration
	logger        *slog.Logger
}

// NewSignalsClient constructs a client for the configured backend. Baselines
// are cached in provider for baselineTTL when both are set.
func NewSignalsClient(cfg config.SignalsClientConfig, provider cache.Provider, baselineTTL time.Duration, logger *slog.Logger) *SignalsClient {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SignalsClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		metricsPath:   firstNonEmpty(cfg.MetricsPath, "/api/v1/metrics/query"),
		baselinesPath: firstNonEmpty(cfg.BaselinesPath, "/api/v1/baselines"),
		logsPath:      firstNonEmpty(cfg.LogsPath, "/api/v1/logs/query"),
		eventsPath:    firstNonEmpty(cfg.EventsPath, "/api/v1/events/query"),
		httpClient:    &http.Client{Timeout: timeout},
		cache:         provider,
		baselineTTL:   max(baselineTTL, 0),
		logger:        logger,
	}
}

// FetchMetrics returns every series with samples in [start, end].
func (c *SignalsClient) FetchMetrics(ctx context.Context, start, end time.Time) ([]models.MetricSeries, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"start": start.UTC().Format(time.RFC3339),
		"end":   end.UTC().Format(time.RFC3339),
	}
	var response struct {
		Series []models.MetricSeries `json:"series"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.metricsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("signals metrics request failed: %w", err)
	}
	out := make([]models.MetricSeries, 0, len(response.Series))
	for _, s := range response.Series {
		if s.Name == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// GetBaseline returns the seasonal baseline for name+labels, or nil when the
// backend has none.
func (c *SignalsClient) GetBaseline(ctx context.Context, name string, labels map[string]string) (*models.Baseline, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	key := "baseline:" + models.MetricKey(name, labels)
	if c.baselineTTL > 0 {
		if data, err := c.cache.Get(ctx, key); err == nil {
			var cached models.Baseline
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
			c.logger.Warn("dropping unreadable cached baseline", slog.String("key", key))
			if err := c.cache.Del(ctx, key); err != nil {
				c.logger.Debug("baseline cache delete failed", slog.String("key", key), slog.Any("error", err))
			}
		}
	}

	payload := map[string]any{"metric_name": name, "labels": labels}
	var response struct {
		Baseline *models.Baseline `json:"baseline"`
	}
	err := c.postJSON(ctx, c.resolvePath(c.baselinesPath), payload, &response)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("signals baseline request failed: %w", err)
	}
	if response.Baseline == nil {
		return nil, nil
	}

	if c.baselineTTL > 0 {
		if data, err := json.Marshal(response.Baseline); err == nil {
			if err := c.cache.Set(ctx, key, data, c.baselineTTL); err != nil {
				c.logger.Debug("baseline cache write failed", slog.String("key", key), slog.Any("error", err))
			}
		}
	}
	return response.Baseline, nil
}

// FetchLogs returns log entries matching labels in [start, end], newest last.
func (c *SignalsClient) FetchLogs(ctx context.Context, labels map[string]string, start, end time.Time, limit int) ([]models.LogEntry, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"labels": labels,
		"start":  start.UTC().Format(time.RFC3339),
		"end":    end.UTC().Format(time.RFC3339),
		"limit":  limit,
	}
	var response struct {
		Entries []models.LogEntry `json:"entries"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.logsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("signals logs request failed: %w", err)
	}
	return response.Entries, nil
}

// FetchEvents returns platform events matching labels in [start, end].
func (c *SignalsClient) FetchEvents(ctx context.Context, labels map[string]string, start, end time.Time, limit int) ([]models.Event, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"labels": labels,
		"start":  start.UTC().Format(time.RFC3339),
		"end":    end.UTC().Format(time.RFC3339),
		"limit":  limit,
	}
	var response struct {
		Events []models.Event `json:"events"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.eventsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("signals events request failed: %w", err)
	}
	return response.Events, nil
}

func (c *SignalsClient) ready() error {
	if c == nil {
		return fmt.Errorf("signals client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("signals base URL not configured")
	}
	return nil
}

func (c *SignalsClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *SignalsClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signals backend returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
