package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/miradorstack/mirador-cognition/internal/config"
	"github.com/miradorstack/mirador-cognition/internal/models"
)

const defaultWeaviateClass = "CognitionKnowledge"

// ErrVectorIndexDisabled is returned when no Weaviate endpoint is configured.
var ErrVectorIndexDisabled = errors.New("weaviate endpoint not configured")

// WeaviateIndex stores knowledge base vectors in a Weaviate class. Objects carry
// the item id, the item type and the JSON-encoded item as properties.
type WeaviateIndex struct {
	endpoint   string
	apiKey     string
	class      string
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWeaviateIndex constructs a Weaviate client.
func NewWeaviateIndex(cfg config.WeaviateConfig, logger *slog.Logger) (*WeaviateIndex, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrVectorIndexDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	class := cfg.Class
	if class == "" {
		class = defaultWeaviateClass
	}
	return &WeaviateIndex{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		class:      class,
		maxRetries: max(cfg.MaxRetries, 0),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// EnsureSchema creates the class when it does not exist yet.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	resp, err := w.do(ctx, http.MethodGet, "/v1/schema/"+w.class, nil)
	if err != nil {
		return fmt.Errorf("weaviate schema lookup: %w", err)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode != http.StatusNotFound:
		return fmt.Errorf("weaviate schema lookup returned %s", resp.Status)
	}

	class := map[string]any{
		"class":      w.class,
		"vectorizer": "none",
		"properties": []map[string]any{
			{"name": "itemId", "dataType": []string{"text"}},
			{"name": "itemType", "dataType": []string{"text"}},
			{"name": "body", "dataType": []string{"text"}},
		},
	}
	body, err := json.Marshal(class)
	if err != nil {
		return err
	}
	resp, err = w.do(ctx, http.MethodPost, "/v1/schema", body)
	if err != nil {
		return fmt.Errorf("weaviate create class: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("weaviate create class failed: %s", strings.TrimSpace(string(data)))
	}
	w.logger.Info("created weaviate class", slog.String("class", w.class))
	return nil
}

// Upsert writes or replaces the object for id. Transient failures are retried.
func (w *WeaviateIndex) Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	itemType, _ := payload["type"].(string)
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	batch := map[string]any{
		"objects": []map[string]any{{
			"class":  w.class,
			"id":     ObjectID(id).String(),
			"vector": vector,
			"properties": map[string]any{
				"itemId":   id,
				"itemType": itemType,
				"body":     string(encoded),
			},
		}},
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	return w.retry(ctx, "upsert", func() error {
		resp, err := w.do(ctx, http.MethodPost, "/v1/batch/objects", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := statusError("weaviate upsert", resp); err != nil {
			return err
		}
		var results []struct {
			Result struct {
				Errors *struct {
					Error []struct {
						Message string `json:"message"`
					} `json:"error"`
				} `json:"errors"`
			} `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
			return backoff.Permanent(fmt.Errorf("decode batch response: %w", err))
		}
		for _, r := range results {
			if r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return backoff.Permanent(fmt.Errorf("weaviate upsert rejected: %s", r.Result.Errors.Error[0].Message))
			}
		}
		return nil
	})
}

// Search returns the nearest objects of itemType. Score is 1 - cosine distance.
func (w *WeaviateIndex) Search(ctx context.Context, vector []float32, itemType string, limit int) ([]models.VectorHit, error) {
	if limit <= 0 {
		limit = 5
	}
	gql := fmt.Sprintf(`{
  Get {
    %s(
      limit: %d
      nearVector: {vector: %s}
      where: {path: ["itemType"], operator: Equal, valueText: %q}
    ) {
      itemId
      itemType
      body
      _additional { id distance }
    }
  }
}`, w.class, limit, formatVector(vector), itemType)

	body, err := json.Marshal(map[string]any{"query": gql})
	if err != nil {
		return nil, err
	}

	var response struct {
		Data struct {
			Get map[string][]struct {
				ItemID     string `json:"itemId"`
				ItemType   string `json:"itemType"`
				Body       string `json:"body"`
				Additional struct {
					ID       string  `json:"id"`
					Distance float64 `json:"distance"`
				} `json:"_additional"`
			} `json:"Get"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	err = w.retry(ctx, "search", func() error {
		resp, err := w.do(ctx, http.MethodPost, "/v1/graphql", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := statusError("weaviate search", resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return backoff.Permanent(fmt.Errorf("decode graphql response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(response.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s", response.Errors[0].Message)
	}

	records := response.Data.Get[w.class]
	hits := make([]models.VectorHit, 0, len(records))
	for _, rec := range records {
		payload := make(map[string]any)
		if err := json.Unmarshal([]byte(rec.Body), &payload); err != nil {
			w.logger.Warn("skipping weaviate object with malformed body",
				slog.String("id", rec.Additional.ID), slog.Any("error", err))
			continue
		}
		id := rec.ItemID
		if id == "" {
			id = rec.Additional.ID
		}
		hits = append(hits, models.VectorHit{ID: id, Score: 1 - rec.Additional.Distance, Payload: payload})
	}
	return hits, nil
}

// ObjectID maps a knowledge base id onto a stable Weaviate object UUID.
func ObjectID(id string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mirador-cognition/"+id))
}

func (w *WeaviateIndex) do(ctx context.Context, method, p string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.endpoint+p, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	return w.httpClient.Do(req)
}

func (w *WeaviateIndex) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff(backoff.WithInitialInterval(100 * time.Millisecond))
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(w.maxRetries)), ctx)
	return backoff.RetryNotify(fn, b, func(err error, wait time.Duration) {
		w.logger.Debug("retrying weaviate request",
			slog.String("op", op), slog.Duration("wait", wait), slog.Any("error", err))
	})
}

// statusError returns nil for 2xx. Client errors other than 429 are permanent.
func statusError(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s returned %s: %s", op, resp.Status, strings.TrimSpace(string(data)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

func formatVector(vector []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
