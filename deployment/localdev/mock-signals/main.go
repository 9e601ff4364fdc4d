package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"
)

type dataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type series struct {
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
	Points   []dataPoint       `json:"points"`
}

type stats struct {
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Median      float64 `json:"median"`
	MAD         float64 `json:"mad"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	SampleCount int     `json:"sample_count"`
}

type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Service   string    `json:"service"`
	ErrorCode string    `json:"error_code,omitempty"`
}

type event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message"`
}

// profile drives a synthetic series: a sine wave around mean, with a spike
// on the latest sample during odd five-minute slots.
type profile struct {
	name     string
	category string
	service  string
	mean     float64
	std      float64
	spike    float64
}

var profiles = []profile{
	{name: "orders_rate", category: "trading", service: "order-gateway", mean: 120, std: 6, spike: -70},
	{name: "cpu_usage", category: "infrastructure", service: "matcher", mean: 55, std: 4, spike: 40},
	{name: "memory_usage", category: "infrastructure", service: "matcher", mean: 70, std: 3, spike: 25},
	{name: "request_latency", category: "api", service: "order-gateway", mean: 45, std: 5, spike: 160},
}

func (p profile) generate(start, end time.Time, spiking bool) series {
	s := series{
		Name:     p.name,
		Category: p.category,
		Labels:   map[string]string{"service": p.service},
		Points:   make([]dataPoint, 0),
	}
	for ts := start.Truncate(time.Minute); !ts.After(end); ts = ts.Add(time.Minute) {
		v := p.mean + p.std*math.Sin(float64(ts.Unix()/60)/3)
		s.Points = append(s.Points, dataPoint{Timestamp: ts, Value: v})
	}
	if spiking && len(s.Points) > 0 {
		s.Points[len(s.Points)-1].Value += p.spike
	}
	return s
}

func (p profile) baseline() stats {
	return stats{
		Mean:        p.mean,
		Std:         p.std,
		Median:      p.mean,
		MAD:         p.std * 0.6745,
		Min:         p.mean - p.std,
		Max:         p.mean + p.std,
		SampleCount: 10080,
	}
}

type window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w window) orDefault() window {
	if w.End.IsZero() {
		w.End = time.Now().UTC()
	}
	if w.Start.IsZero() || !w.Start.Before(w.End) {
		w.Start = w.End.Add(-time.Hour)
	}
	return w
}

func spiking(now time.Time) bool {
	return (now.Unix()/300)%2 == 1
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("component", "signals-mock"))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/metrics/query", func(w http.ResponseWriter, r *http.Request) {
		var req window
		if !decodePost(w, r, &req) {
			return
		}
		req = req.orDefault()
		out := make([]series, 0, len(profiles))
		for _, p := range profiles {
			out = append(out, p.generate(req.Start, req.End, spiking(req.End)))
		}
		writeJSON(logger, w, map[string]any{"series": out})
	})

	mux.HandleFunc("/api/v1/baselines", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MetricName string            `json:"metric_name"`
			Labels     map[string]string `json:"labels"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		for _, p := range profiles {
			if p.name == req.MetricName {
				writeJSON(logger, w, map[string]any{"baseline": map[string]any{
					"metric_name":  p.name,
					"labels":       req.Labels,
					"global_stats": p.baseline(),
					"updated_at":   time.Now().UTC().Truncate(time.Hour),
				}})
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("/api/v1/logs/query", func(w http.ResponseWriter, r *http.Request) {
		var req window
		if !decodePost(w, r, &req) {
			return
		}
		end := req.orDefault().End
		writeJSON(logger, w, map[string]any{
			"entries": []logEntry{
				{Timestamp: end.Add(-3 * time.Minute), Message: "matcher worker OOM, process killed", Level: "error", Service: "matcher", ErrorCode: "E_OOM"},
				{Timestamp: end.Add(-2 * time.Minute), Message: "order submit timeout after 5s", Level: "error", Service: "order-gateway", ErrorCode: "E_TIMEOUT"},
				{Timestamp: end.Add(-time.Minute), Message: "retry exhausted for order batch", Level: "warn", Service: "order-gateway"},
			},
		})
	})

	mux.HandleFunc("/api/v1/events/query", func(w http.ResponseWriter, r *http.Request) {
		var req window
		if !decodePost(w, r, &req) {
			return
		}
		end := req.orDefault().End
		writeJSON(logger, w, map[string]any{
			"events": []event{
				{Timestamp: end.Add(-4 * time.Minute), Kind: "Pod", Name: "matcher-7d9f", Reason: "OOMKilled", Message: "container exceeded memory limit"},
				{Timestamp: end.Add(-10 * time.Minute), Kind: "Deployment", Name: "order-gateway", Reason: "ScalingReplicaSet", Message: "scaled up to 4"},
			},
		})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func decodePost(w http.ResponseWriter, r *http.Request, out any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
