package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the cognition engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Clients   ClientsConfig   `yaml:"clients"`
	Detection DetectionConfig `yaml:"detection"`
	RCA       RCAConfig       `yaml:"rca"`
	LLM       LLMConfig       `yaml:"llm"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Logging   LoggingConfig   `yaml:"logging"`
	Rules     RulesConfig     `yaml:"rules"`
	Cache     CacheConfig     `yaml:"cache"`
	State     StateConfig     `yaml:"state"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups integrations with signal backends.
type ClientsConfig struct {
	Signals SignalsClientConfig `yaml:"signals"`
}

// SignalsClientConfig configures access to the metric, baseline, log and event APIs.
type SignalsClientConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	MetricsPath   string        `yaml:"metricsPath"`
	BaselinesPath string        `yaml:"baselinesPath"`
	LogsPath      string        `yaml:"logsPath"`
	EventsPath    string        `yaml:"eventsPath"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DetectionConfig tunes the anomaly detector ensemble.
type DetectionConfig struct {
	ZScoreThreshold  float64       `yaml:"zscoreThreshold"`
	MADThreshold     float64       `yaml:"madThreshold"`
	EnsembleMinVotes int           `yaml:"ensembleMinVotes"`
	Algorithms       []string      `yaml:"algorithms"`
	Workers          int           `yaml:"workers"`
	BaselineTimeout  time.Duration `yaml:"baselineTimeout"`
	Forest           ForestConfig  `yaml:"forest"`
}

// ForestConfig tunes the isolation forest.
type ForestConfig struct {
	Trees         int     `yaml:"trees"`
	SampleSize    int     `yaml:"sampleSize"`
	MinHistory    int     `yaml:"minHistory"`
	Contamination float64 `yaml:"contamination"`
	Seed          int64   `yaml:"seed"`
}

// RCAConfig controls root-cause analysis.
type RCAConfig struct {
	UseLLM            bool          `yaml:"useLLM"`
	LLMConfidenceGate float64       `yaml:"llmConfidenceGate"`
	LLMTimeout        time.Duration `yaml:"llmTimeout"`
	Workers           int           `yaml:"workers"`
}

// LLMConfig configures the text-completion provider.
type LLMConfig struct {
	APIKey    string        `yaml:"apiKey"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"baseURL"`
	MaxTokens int           `yaml:"maxTokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// WeaviateConfig configures the vector index cluster.
type WeaviateConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"apiKey"`
	Class      string        `yaml:"class"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// EmbeddingConfig configures the embedding service.
type EmbeddingConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"apiKey"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
	// Offline enables hash-seeded pseudo embeddings. They carry no semantic
	// similarity and exist for local runs and tests only.
	Offline bool `yaml:"offline"`
}

// KnowledgeConfig controls the incident/runbook knowledge base.
type KnowledgeConfig struct {
	MinScore       float64       `yaml:"minScore"`
	SimilarLimit   int           `yaml:"similarLimit"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	SearchTimeout  time.Duration `yaml:"searchTimeout"`
	SeedPath       string        `yaml:"seedPath"`
	RecordResolved bool          `yaml:"recordResolved"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// RulesConfig controls rule-pack loading for the RCA engine.
type RulesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// CacheConfig controls in-process caching of expensive lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Size         int           `yaml:"size"`
	BaselineTTL  time.Duration `yaml:"baselineTTL"`
	EmbeddingTTL time.Duration `yaml:"embeddingTTL"`
}

// StateConfig controls persistence of active anomalies across restarts.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig controls the monitoring loop.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval"`
	Lookback time.Duration `yaml:"lookback"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_COGNITION_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the detector or RCA engine cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Detection.ZScoreThreshold <= 0 {
		errs = append(errs, fmt.Errorf("detection.zscoreThreshold must be positive"))
	}
	if c.Detection.MADThreshold <= 0 {
		errs = append(errs, fmt.Errorf("detection.madThreshold must be positive"))
	}
	if c.Detection.EnsembleMinVotes < 1 {
		errs = append(errs, fmt.Errorf("detection.ensembleMinVotes must be at least 1"))
	}
	for _, alg := range c.Detection.Algorithms {
		switch alg {
		case "zscore", "mad", "isolation_forest":
		default:
			errs = append(errs, fmt.Errorf("detection.algorithms: unknown algorithm %q", alg))
		}
	}
	if c.Detection.Forest.Contamination <= 0 || c.Detection.Forest.Contamination >= 0.5 {
		errs = append(errs, fmt.Errorf("detection.forest.contamination must be in (0, 0.5)"))
	}
	if c.RCA.LLMConfidenceGate < 0 || c.RCA.LLMConfidenceGate > 1 {
		errs = append(errs, fmt.Errorf("rca.llmConfidenceGate must be in [0, 1]"))
	}
	if c.Knowledge.MinScore < 0 || c.Knowledge.MinScore > 1 {
		errs = append(errs, fmt.Errorf("knowledge.minScore must be in [0, 1]"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Signals: SignalsClientConfig{
				MetricsPath:   "/api/v1/metrics/query",
				BaselinesPath: "/api/v1/baselines",
				LogsPath:      "/api/v1/logs/query",
				EventsPath:    "/api/v1/events/query",
				Timeout:       5 * time.Second,
			},
		},
		Detection: DetectionConfig{
			ZScoreThreshold:  3.0,
			MADThreshold:     3.5,
			EnsembleMinVotes: 2,
			Algorithms:       []string{"zscore", "mad", "isolation_forest"},
			Workers:          8,
			BaselineTimeout:  2 * time.Second,
			Forest: ForestConfig{
				Trees:         100,
				SampleSize:    256,
				MinHistory:    100,
				Contamination: 0.1,
				Seed:          42,
			},
		},
		RCA: RCAConfig{
			UseLLM:            true,
			LLMConfidenceGate: 0.7,
			LLMTimeout:        30 * time.Second,
			Workers:           4,
		},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 500,
			Timeout:   30 * time.Second,
		},
		Weaviate: WeaviateConfig{
			Class:      "KnowledgeItem",
			Timeout:    5 * time.Second,
			MaxRetries: 2,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Knowledge: KnowledgeConfig{
			MinScore:       0.5,
			SimilarLimit:   3,
			WriteTimeout:   15 * time.Second,
			SearchTimeout:  5 * time.Second,
			RecordResolved: true,
		},
		Logging: LoggingConfig{Level: "info", JSON: false, MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml", Watch: true},
		Cache: CacheConfig{
			Enabled:      true,
			Size:         4096,
			BaselineTTL:  5 * time.Minute,
			EmbeddingTTL: time.Hour,
		},
		State:    StateConfig{Path: "data/anomaly_state.db"},
		Schedule: ScheduleConfig{Interval: time.Minute, Lookback: 15 * time.Minute},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_COGNITION_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_SIGNALS_BASE_URL"); v != "" {
		cfg.Clients.Signals.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_SIGNALS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Clients.Signals.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_COGNITION_ZSCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.ZScoreThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_COGNITION_MAD_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.MADThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_COGNITION_MIN_VOTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.EnsembleMinVotes = n
		}
	}
	if v := os.Getenv("MIRADOR_COGNITION_ALGORITHMS"); v != "" {
		cfg.Detection.Algorithms = splitList(v)
	}
	if v := os.Getenv("MIRADOR_COGNITION_USE_LLM"); v != "" {
		cfg.RCA.UseLLM = parseBool(v)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_WEAVIATE_URL"); v != "" {
		cfg.Weaviate.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_WEAVIATE_API_KEY"); v != "" {
		cfg.Weaviate.APIKey = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_EMBEDDING_URL"); v != "" {
		cfg.Embedding.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_EMBEDDING_OFFLINE"); v != "" {
		cfg.Embedding.Offline = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_COGNITION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_COGNITION_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("MIRADOR_COGNITION_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_COGNITION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Schedule.Interval = d
		}
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
