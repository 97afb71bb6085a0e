// Package config provides configuration management for mnemo.
// Settings come from built-in defaults, then an optional YAML file, then
// environment variables with the MNEMO_ prefix, each layer overriding the last.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the mnemo application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // default: 6464
	Host string `yaml:"host"` // default: 127.0.0.1
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath      string `yaml:"data_path"`    // directory holding mnemo.db (default: ./data)
	PostgresDSN   string `yaml:"postgres_dsn"` // required when engine is postgres
}

// DatabasePath returns the SQLite database file path.
func (s StorageConfig) DatabasePath() string {
	return filepath.Join(s.DataPath, "mnemo.db")
}

// LLMConfig contains scoring oracle and embedding provider configuration.
type LLMConfig struct {
	LLMProvider          string        `yaml:"provider"`           // ollama, openai, anthropic (default: ollama)
	EmbeddingProvider    string        `yaml:"embedding_provider"` // ollama, openai or none (default: ollama)
	OllamaURL            string        `yaml:"ollama_url"`
	OllamaModel          string        `yaml:"ollama_model"`
	OllamaEmbeddingModel string        `yaml:"ollama_embedding_model"`
	OpenAIAPIKey         string        `yaml:"openai_api_key"`
	OpenAIModel          string        `yaml:"openai_model"`
	OpenAIEmbeddingModel string        `yaml:"openai_embedding_model"`
	AnthropicAPIKey      string        `yaml:"anthropic_api_key"`
	AnthropicModel       string        `yaml:"anthropic_model"`
	OracleTimeout        time.Duration `yaml:"oracle_timeout"`         // per scoring call (default: 30s)
	OracleRatePerSecond  float64       `yaml:"oracle_rate_per_second"` // 0 disables pacing
	OracleBurst          int           `yaml:"oracle_burst"`
}

// EngineConfig sizes the async scoring pipeline.
type EngineConfig struct {
	NumWorkers         int           `yaml:"num_workers"`
	QueueSize          int           `yaml:"queue_size"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	RecoveryBatchSize  int           `yaml:"recovery_batch_size"`
	LifecycleBatchSize int           `yaml:"lifecycle_batch_size"` // max marks and archives per lifecycle run
}

// SchedulerConfig controls the background maintenance loops.
type SchedulerConfig struct {
	Enabled                bool          `yaml:"enabled"`
	LLMInterval            time.Duration `yaml:"llm_interval"`
	LLMBatchSize           int           `yaml:"llm_batch_size"`
	EmbedBatchSize         int           `yaml:"embed_batch_size"`
	LifecycleCheckInterval time.Duration `yaml:"lifecycle_check_interval"`
	ErrorBackoff           time.Duration `yaml:"error_backoff"`
	LifecycleRunHour       int           `yaml:"lifecycle_run_hour"`
	LifecycleMinDays       int           `yaml:"lifecycle_min_days"`
	Timezone               string        `yaml:"timezone"` // IANA name; empty means the host's local zone
}

// Location resolves Timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// SecurityConfig contains authentication and rate limiting for the HTTP surface.
type SecurityConfig struct {
	SecurityMode       string  `yaml:"mode"` // development or production
	APIToken           string  `yaml:"api_token"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

// LoggingConfig selects the log format and verbosity.
type LoggingConfig struct {
	Format  string `yaml:"format"` // console or json
	Verbose bool   `yaml:"verbose"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 6464,
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      "./data",
		},
		LLM: LLMConfig{
			LLMProvider:          "ollama",
			EmbeddingProvider:    "ollama",
			OllamaURL:            "http://localhost:11434",
			OllamaModel:          "qwen2.5:7b",
			OllamaEmbeddingModel: "nomic-embed-text",
			OpenAIModel:          "gpt-4o-mini",
			OpenAIEmbeddingModel: "text-embedding-3-small",
			AnthropicModel:       "claude-3-5-haiku-20241022",
			OracleTimeout:        30 * time.Second,
			OracleRatePerSecond:  2,
			OracleBurst:          2,
		},
		Engine: EngineConfig{
			NumWorkers:         4,
			QueueSize:          1000,
			ShutdownTimeout:    30 * time.Second,
			RecoveryBatchSize:  100,
			LifecycleBatchSize: 1000,
		},
		Scheduler: SchedulerConfig{
			Enabled:                true,
			LLMInterval:            time.Hour,
			LLMBatchSize:           10,
			EmbedBatchSize:         10,
			LifecycleCheckInterval: time.Hour,
			ErrorBackoff:           10 * time.Minute,
			LifecycleRunHour:       2,
			LifecycleMinDays:       28,
		},
		Security: SecurityConfig{
			SecurityMode:       "development",
			RateLimitPerSecond: 10,
			RateLimitBurst:     20,
		},
		Logging: LoggingConfig{
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from the file named by MNEMO_CONFIG (if set)
// and environment variables.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(os.Getenv("MNEMO_CONFIG"))
}

// LoadConfigFile loads defaults, overlays the YAML file at path (skipped when
// path is empty), then overlays environment variables, and validates.
func LoadConfigFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg with any MNEMO_ environment variables that are set.
func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("MNEMO_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("MNEMO_HOST", cfg.Server.Host)

	cfg.Storage.StorageEngine = getEnv("MNEMO_STORAGE_ENGINE", cfg.Storage.StorageEngine)
	cfg.Storage.DataPath = getEnv("MNEMO_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("MNEMO_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.LLM.LLMProvider = getEnv("MNEMO_LLM_PROVIDER", cfg.LLM.LLMProvider)
	cfg.LLM.EmbeddingProvider = getEnv("MNEMO_EMBEDDING_PROVIDER", cfg.LLM.EmbeddingProvider)
	cfg.LLM.OllamaURL = getEnv("MNEMO_OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.OllamaModel = getEnv("MNEMO_OLLAMA_MODEL", cfg.LLM.OllamaModel)
	cfg.LLM.OllamaEmbeddingModel = getEnv("MNEMO_EMBEDDING_MODEL", cfg.LLM.OllamaEmbeddingModel)
	cfg.LLM.OpenAIAPIKey = getEnv("MNEMO_OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	cfg.LLM.OpenAIModel = getEnv("MNEMO_OPENAI_MODEL", cfg.LLM.OpenAIModel)
	cfg.LLM.OpenAIEmbeddingModel = getEnv("MNEMO_OPENAI_EMBEDDING_MODEL", cfg.LLM.OpenAIEmbeddingModel)
	cfg.LLM.AnthropicAPIKey = getEnv("MNEMO_ANTHROPIC_API_KEY", cfg.LLM.AnthropicAPIKey)
	cfg.LLM.AnthropicModel = getEnv("MNEMO_ANTHROPIC_MODEL", cfg.LLM.AnthropicModel)
	cfg.LLM.OracleTimeout = getEnvDuration("MNEMO_ORACLE_TIMEOUT", cfg.LLM.OracleTimeout)
	cfg.LLM.OracleRatePerSecond = getEnvFloat("MNEMO_ORACLE_RATE_PER_SECOND", cfg.LLM.OracleRatePerSecond)
	cfg.LLM.OracleBurst = getEnvInt("MNEMO_ORACLE_BURST", cfg.LLM.OracleBurst)

	cfg.Engine.NumWorkers = getEnvInt("MNEMO_WORKERS", cfg.Engine.NumWorkers)
	cfg.Engine.QueueSize = getEnvInt("MNEMO_QUEUE_SIZE", cfg.Engine.QueueSize)
	cfg.Engine.ShutdownTimeout = getEnvDuration("MNEMO_SHUTDOWN_TIMEOUT", cfg.Engine.ShutdownTimeout)
	cfg.Engine.RecoveryBatchSize = getEnvInt("MNEMO_RECOVERY_BATCH_SIZE", cfg.Engine.RecoveryBatchSize)
	cfg.Engine.LifecycleBatchSize = getEnvInt("MNEMO_LIFECYCLE_BATCH_SIZE", cfg.Engine.LifecycleBatchSize)

	cfg.Scheduler.Enabled = getEnvBool("MNEMO_SCHEDULER_ENABLED", cfg.Scheduler.Enabled)
	cfg.Scheduler.LLMInterval = getEnvDuration("MNEMO_SCHEDULER_LLM_INTERVAL", cfg.Scheduler.LLMInterval)
	cfg.Scheduler.LLMBatchSize = getEnvInt("MNEMO_SCHEDULER_LLM_BATCH_SIZE", cfg.Scheduler.LLMBatchSize)
	cfg.Scheduler.EmbedBatchSize = getEnvInt("MNEMO_SCHEDULER_EMBED_BATCH_SIZE", cfg.Scheduler.EmbedBatchSize)
	cfg.Scheduler.LifecycleCheckInterval = getEnvDuration("MNEMO_SCHEDULER_LIFECYCLE_INTERVAL", cfg.Scheduler.LifecycleCheckInterval)
	cfg.Scheduler.ErrorBackoff = getEnvDuration("MNEMO_SCHEDULER_ERROR_BACKOFF", cfg.Scheduler.ErrorBackoff)
	cfg.Scheduler.LifecycleRunHour = getEnvInt("MNEMO_SCHEDULER_LIFECYCLE_HOUR", cfg.Scheduler.LifecycleRunHour)
	cfg.Scheduler.LifecycleMinDays = getEnvInt("MNEMO_SCHEDULER_LIFECYCLE_MIN_DAYS", cfg.Scheduler.LifecycleMinDays)
	cfg.Scheduler.Timezone = getEnv("MNEMO_SCHEDULER_TIMEZONE", cfg.Scheduler.Timezone)

	cfg.Security.SecurityMode = getEnv("MNEMO_SECURITY_MODE", cfg.Security.SecurityMode)
	cfg.Security.APIToken = getEnv("MNEMO_API_TOKEN", cfg.Security.APIToken)
	cfg.Security.RateLimitPerSecond = getEnvFloat("MNEMO_RATE_LIMIT_PER_SECOND", cfg.Security.RateLimitPerSecond)
	cfg.Security.RateLimitBurst = getEnvInt("MNEMO_RATE_LIMIT_BURST", cfg.Security.RateLimitBurst)

	cfg.Logging.Format = getEnv("MNEMO_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Verbose = getEnvBool("MNEMO_VERBOSE", cfg.Logging.Verbose)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port))
	}

	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires a DSN (MNEMO_POSTGRES_DSN)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage engine %q", c.Storage.StorageEngine))
	}

	switch c.LLM.LLMProvider {
	case "ollama", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.LLMProvider))
	}
	switch c.LLM.EmbeddingProvider {
	case "ollama", "openai", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.LLM.EmbeddingProvider))
	}
	if c.LLM.OracleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("oracle timeout must be positive, got %v", c.LLM.OracleTimeout))
	}
	if c.LLM.OracleRatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("oracle rate must be >= 0, got %v", c.LLM.OracleRatePerSecond))
	}

	if c.Engine.NumWorkers < 1 {
		errs = append(errs, fmt.Errorf("num workers must be >= 1, got %d", c.Engine.NumWorkers))
	}
	if c.Engine.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue size must be >= 1, got %d", c.Engine.QueueSize))
	}
	if c.Engine.LifecycleBatchSize < 1 {
		errs = append(errs, fmt.Errorf("lifecycle batch size must be >= 1, got %d", c.Engine.LifecycleBatchSize))
	}

	if c.Scheduler.LLMInterval <= 0 || c.Scheduler.LifecycleCheckInterval <= 0 || c.Scheduler.ErrorBackoff <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	if c.Scheduler.LLMBatchSize < 1 {
		errs = append(errs, fmt.Errorf("scheduler llm batch size must be >= 1, got %d", c.Scheduler.LLMBatchSize))
	}
	if c.Scheduler.LifecycleRunHour < 0 || c.Scheduler.LifecycleRunHour > 23 {
		errs = append(errs, fmt.Errorf("lifecycle run hour must be 0-23, got %d", c.Scheduler.LifecycleRunHour))
	}
	if _, err := c.Scheduler.Location(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler timezone: %w", err))
	}

	if c.Security.SecurityMode == "production" && c.Security.APIToken == "" {
		errs = append(errs, errors.New("production mode requires MNEMO_API_TOKEN"))
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool recognizes true/1/yes and false/0/no, case-insensitively.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
