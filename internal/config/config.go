// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Log            LogConfig            `yaml:"log"`
	Server         ServerConfig         `yaml:"server"`
	Judgment       JudgmentConfig       `yaml:"judgment"`
	Evaluation     EvaluationConfig     `yaml:"evaluation"`
	Engine         EngineConfig         `yaml:"engine"`
	Sustainability SustainabilityConfig `yaml:"sustainability"`
	Data           DataConfig           `yaml:"data"`
	Store          StoreConfig          `yaml:"store"`
	Bus            BusConfig            `yaml:"bus"`
	Vector         VectorConfig         `yaml:"vector"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	QueryGen       QueryGenConfig       `yaml:"querygen"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"GREENEVAL_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"GREENEVAL_LOG_FORMAT" yaml:"format"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Host      string `envconfig:"GREENEVAL_HOST" yaml:"host"`
	Port      int    `envconfig:"GREENEVAL_PORT" yaml:"port"`
	RateLimit int    `envconfig:"GREENEVAL_RATE_LIMIT" yaml:"rate_limit"` // requests/s per client, 0 = disabled
}

// JudgmentConfig holds qrels synthesis settings.
type JudgmentConfig struct {
	Threshold float64 `envconfig:"GREENEVAL_JUDGMENT_THRESHOLD" yaml:"threshold"`
	TopK      int     `envconfig:"GREENEVAL_JUDGMENT_TOP_K" yaml:"top_k"`
	Mode      string  `envconfig:"GREENEVAL_JUDGMENT_MODE" yaml:"mode"` // joint or projected
}

// EvaluationConfig holds metric settings.
type EvaluationConfig struct {
	K      int    `envconfig:"GREENEVAL_EVAL_K" yaml:"k"`
	Metric string `envconfig:"GREENEVAL_EVAL_METRIC" yaml:"metric"`
}

// EngineConfig holds retrieval engine settings.
type EngineConfig struct {
	URL       string        `envconfig:"GREENEVAL_ENGINE_URL" yaml:"url"`
	Timeout   time.Duration `envconfig:"GREENEVAL_ENGINE_TIMEOUT" yaml:"timeout"`
	RateLimit float64       `envconfig:"GREENEVAL_ENGINE_RATE_LIMIT" yaml:"rate_limit"` // 0 = unthrottled
	Burst     int           `envconfig:"GREENEVAL_ENGINE_BURST" yaml:"burst"`
	TopK      int           `envconfig:"GREENEVAL_ENGINE_TOP_K" yaml:"top_k"`
	Model     string        `envconfig:"GREENEVAL_ENGINE_MODEL" yaml:"model"`

	BM25K1 float64 `envconfig:"GREENEVAL_BM25_K1" yaml:"bm25_k1"`
	BM25B  float64 `envconfig:"GREENEVAL_BM25_B" yaml:"bm25_b"`

	RM3FBTerms             int     `envconfig:"GREENEVAL_RM3_FB_TERMS" yaml:"rm3_fb_terms"`
	RM3FBDocs              int     `envconfig:"GREENEVAL_RM3_FB_DOCS" yaml:"rm3_fb_docs"`
	RM3OriginalQueryWeight float64 `envconfig:"GREENEVAL_RM3_WEIGHT" yaml:"rm3_original_query_weight"`

	QLDMu float64 `envconfig:"GREENEVAL_QLD_MU" yaml:"qld_mu"`
}

// SustainabilityConfig holds carbon accounting settings.
type SustainabilityConfig struct {
	// IntensityFile is a YAML or JSON table of source -> gCO2e/kWh. Empty uses the builtin table.
	IntensityFile string `envconfig:"GREENEVAL_INTENSITY_FILE" yaml:"intensity_file"`

	// Mix is the default energy mix, source -> share. Empty uses the builtin mix.
	Mix map[string]float64 `ignored:"true" yaml:"mix"`

	LossFactor    float64 `envconfig:"GREENEVAL_LOSS_FACTOR" yaml:"loss_factor"`
	Watts         float64 `envconfig:"GREENEVAL_MACHINE_WATTS" yaml:"watts"`
	LifetimeYears float64 `envconfig:"GREENEVAL_HARDWARE_LIFETIME_YEARS" yaml:"lifetime_years"`
	EmbodiedCost  float64 `envconfig:"GREENEVAL_EMBODIED_COST" yaml:"embodied_cost"`
}

// DataConfig holds dataset locations.
type DataConfig struct {
	Dir          string `envconfig:"GREENEVAL_DATA_DIR" yaml:"dir"`
	ProcessedDir string `envconfig:"GREENEVAL_PROCESSED_DIR" yaml:"processed_dir"`
	IndexDir     string `envconfig:"GREENEVAL_INDEX_DIR" yaml:"index_dir"`
	ResultsDir   string `envconfig:"GREENEVAL_RESULTS_DIR" yaml:"results_dir"`

	// Datasets adds to or overrides the builtin collections.
	Datasets []DatasetConfig `ignored:"true" yaml:"datasets"`
}

// DatasetConfig describes one extra test collection.
type DatasetConfig struct {
	Name         string `yaml:"name"`
	QueryIDStart int    `yaml:"query_id_start"`
	BaseDir      string `yaml:"base_dir"`
	CorpusDir    string `yaml:"corpus_dir"`
	IndexDir     string `yaml:"index_dir"`
}

// StoreConfig holds run history settings.
type StoreConfig struct {
	Type     string `envconfig:"GREENEVAL_STORE_TYPE" yaml:"type"` // memory, sqlite or redis
	Path     string `envconfig:"GREENEVAL_STORE_PATH" yaml:"path"`
	RedisURL string `envconfig:"GREENEVAL_REDIS_URL" yaml:"redis_url"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"GREENEVAL_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"GREENEVAL_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"GREENEVAL_KAFKA_GROUP" yaml:"kafka_group"`
	JournalPath  string `envconfig:"GREENEVAL_BUS_JOURNAL" yaml:"journal_path"`
}

// VectorConfig selects the index used by projected judgment synthesis.
type VectorConfig struct {
	Type         string `envconfig:"GREENEVAL_VECTOR_TYPE" yaml:"type"` // memory or qdrant
	QdrantHost   string `envconfig:"GREENEVAL_QDRANT_HOST" yaml:"qdrant_host"`
	QdrantPort   int    `envconfig:"GREENEVAL_QDRANT_PORT" yaml:"qdrant_port"`
	QdrantAPIKey string `envconfig:"GREENEVAL_QDRANT_API_KEY" yaml:"qdrant_api_key"`
	QdrantTLS    bool   `envconfig:"GREENEVAL_QDRANT_TLS" yaml:"qdrant_tls"`
}

// MetricsConfig holds instrumentation settings.
type MetricsConfig struct {
	Enabled bool   `envconfig:"GREENEVAL_METRICS_ENABLED" yaml:"enabled"`
	Path    string `envconfig:"GREENEVAL_METRICS_PATH" yaml:"path"`

	// TextfilePath receives a Prometheus text dump after each CLI run when set.
	TextfilePath string `envconfig:"GREENEVAL_METRICS_TEXTFILE" yaml:"textfile_path"`
}

// QueryGenConfig holds query generation settings.
type QueryGenConfig struct {
	SummarizerURL string  `envconfig:"GREENEVAL_SUMMARIZER_URL" yaml:"summarizer_url"`
	ChunkSize     int     `envconfig:"GREENEVAL_QUERYGEN_CHUNK_SIZE" yaml:"chunk_size"`
	MinLength     int     `envconfig:"GREENEVAL_QUERYGEN_MIN_LENGTH" yaml:"min_length"`
	MaxLength     int     `envconfig:"GREENEVAL_QUERYGEN_MAX_LENGTH" yaml:"max_length"`
	RateLimit     float64 `envconfig:"GREENEVAL_SUMMARIZER_RATE_LIMIT" yaml:"rate_limit"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Judgment: JudgmentConfig{
			Threshold: 0.3,
			TopK:      5,
			Mode:      "joint",
		},
		Evaluation: EvaluationConfig{
			K:      10,
			Metric: "ndcg",
		},
		Engine: EngineConfig{
			URL:                    "http://localhost:8081",
			Timeout:                30 * time.Second,
			Burst:                  1,
			TopK:                   10,
			Model:                  "bm25",
			BM25K1:                 1.2,
			BM25B:                  0.75,
			RM3FBTerms:             10,
			RM3FBDocs:              10,
			RM3OriginalQueryWeight: 0.5,
			QLDMu:                  1000,
		},
		Sustainability: SustainabilityConfig{
			LossFactor:    0.08,
			Watts:         800,
			LifetimeYears: 3,
			EmbodiedCost:  10000,
		},
		Data: DataConfig{
			Dir:          "data",
			ProcessedDir: "processed_corpus",
			IndexDir:     "indexes",
			ResultsDir:   ".",
		},
		Store: StoreConfig{
			Type: "memory",
			Path: "greeneval.db",
		},
		Bus: BusConfig{
			Type: "memory",
		},
		Vector: VectorConfig{
			Type:       "memory",
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		QueryGen: QueryGenConfig{
			SummarizerURL: "http://localhost:8082",
			ChunkSize:     1000,
			MinLength:     25,
			MaxLength:     50,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}

	if c.Judgment.TopK < 1 {
		errs = append(errs, "judgment top_k must be positive")
	}
	if c.Judgment.Mode != "joint" && c.Judgment.Mode != "projected" {
		errs = append(errs, fmt.Sprintf("invalid judgment mode: %s (must be joint or projected)", c.Judgment.Mode))
	}

	if c.Evaluation.K < 1 {
		errs = append(errs, "evaluation k must be positive")
	}
	if c.Evaluation.Metric != "ndcg" && c.Evaluation.Metric != "precision" {
		errs = append(errs, fmt.Sprintf("invalid metric: %s (must be ndcg or precision)", c.Evaluation.Metric))
	}

	if c.Engine.URL == "" {
		errs = append(errs, "engine url is required")
	}
	if c.Engine.RateLimit < 0 {
		errs = append(errs, "engine rate_limit must not be negative")
	}
	if c.Engine.TopK < 1 {
		errs = append(errs, "engine top_k must be positive")
	}

	s := c.Sustainability
	if s.LossFactor < 0 {
		errs = append(errs, "loss_factor must not be negative")
	}
	if s.Watts <= 0 {
		errs = append(errs, "watts must be positive")
	}
	if s.LifetimeYears <= 0 {
		errs = append(errs, "lifetime_years must be positive")
	}
	if s.EmbodiedCost < 0 {
		errs = append(errs, "embodied_cost must not be negative")
	}

	validStores := map[string]bool{"memory": true, "sqlite": true, "redis": true}
	if !validStores[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("invalid store type: %s (must be memory, sqlite, or redis)", c.Store.Type))
	}
	if c.Store.Type == "redis" && c.Store.RedisURL == "" {
		errs = append(errs, "redis_url is required for the redis store")
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	validVectors := map[string]bool{"memory": true, "qdrant": true}
	if !validVectors[c.Vector.Type] {
		errs = append(errs, fmt.Sprintf("invalid vector type: %s (must be memory or qdrant)", c.Vector.Type))
	}

	if c.QueryGen.ChunkSize < 1 {
		errs = append(errs, "querygen chunk_size must be positive")
	}
	if c.QueryGen.MinLength < 1 || c.QueryGen.MaxLength < c.QueryGen.MinLength {
		errs = append(errs, "querygen lengths must satisfy 1 <= min_length <= max_length")
	}

	seen := make(map[string]bool)
	for _, d := range c.Data.Datasets {
		if d.Name == "" {
			errs = append(errs, "dataset name is required")
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Sprintf("dataset %s configured twice", d.Name))
		}
		seen[d.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
