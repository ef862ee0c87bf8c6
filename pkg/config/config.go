package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for creator-engine.
// Configuration comes from YAML file (config.yaml) with environment variable
// overrides. Secrets (database password, API keys) must only come from
// environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8086"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// OperatorToken guards the operator batch-control surface. Empty disables
	// the check (local development only).
	OperatorToken string `yaml:"-" env:"OPERATOR_TOKEN"` // Secret - not in YAML

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// MigrationsPath is where golang-migrate looks for schema migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Fetcher is the external content-source client configuration.
	Fetcher FetcherConfig `yaml:"fetcher"`

	// Pipeline drives the population orchestrator and the access gate.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Repair drives the completeness scanner and batch repair driver.
	Repair RepairConfig `yaml:"repair"`

	// LLM is the endpoint used by the classification stages.
	LLM LLMConfig `yaml:"llm"`

	// CDN is the object-storage target for post thumbnails.
	CDN CDNConfig `yaml:"cdn"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"pulse"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"creator_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// FetcherConfig holds content-source client settings. The fetch retry budget
// must stay larger than the stage budget; Load rejects configs that violate
// this.
type FetcherConfig struct {
	BaseURL        string        `yaml:"base_url" env:"FETCHER_BASE_URL" env-default:"https://api.contentsource.example"`
	APIKey         string        `yaml:"-" env:"FETCHER_API_KEY"` // Secret - not in YAML
	RequestTimeout time.Duration `yaml:"request_timeout" env:"FETCHER_REQUEST_TIMEOUT" env-default:"30s"`
	MaxRetries     int           `yaml:"max_retries" env:"FETCHER_MAX_RETRIES" env-default:"4"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"FETCHER_INITIAL_BACKOFF" env-default:"500ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"FETCHER_MAX_BACKOFF" env-default:"15s"`
}

// PipelineConfig holds population orchestrator and access gate settings.
type PipelineConfig struct {
	// StageMaxRetries is the per-stage retry budget. Must stay below the
	// fetcher's MaxRetries.
	StageMaxRetries     int           `yaml:"stage_max_retries" env:"PIPELINE_STAGE_MAX_RETRIES" env-default:"2"`
	StageInitialBackoff time.Duration `yaml:"stage_initial_backoff" env:"PIPELINE_STAGE_INITIAL_BACKOFF" env-default:"200ms"`
	StageMaxBackoff     time.Duration `yaml:"stage_max_backoff" env:"PIPELINE_STAGE_MAX_BACKOFF" env-default:"2s"`

	// StageFanOut bounds how many per-post stages run concurrently.
	StageFanOut int `yaml:"stage_fan_out" env:"PIPELINE_STAGE_FAN_OUT" env-default:"3"`

	// AcceptanceThreshold is the minimum fraction of attempted stages that
	// must succeed for a run to be accepted despite partial failure.
	AcceptanceThreshold float64 `yaml:"acceptance_threshold" env:"PIPELINE_ACCEPTANCE_THRESHOLD" env-default:"0.8"`

	// MinimumPostCount feeds the six-criterion completeness evaluation.
	MinimumPostCount int `yaml:"minimum_post_count" env:"PIPELINE_MINIMUM_POST_COUNT" env-default:"12"`

	// ProfileCreditCost is the ledger cost of one gated population.
	ProfileCreditCost int64 `yaml:"profile_credit_cost" env:"PIPELINE_PROFILE_CREDIT_COST" env-default:"5"`

	// GateTimeout bounds the whole gate transaction, including the protected
	// operation's internal retries, to avoid long-held locks.
	GateTimeout time.Duration `yaml:"gate_timeout" env:"PIPELINE_GATE_TIMEOUT" env-default:"5m"`
}

// RepairConfig holds batch repair driver settings.
type RepairConfig struct {
	DefaultConcurrency int     `yaml:"default_concurrency" env:"REPAIR_DEFAULT_CONCURRENCY" env-default:"4"`
	MaxConcurrency     int     `yaml:"max_concurrency" env:"REPAIR_MAX_CONCURRENCY" env-default:"16"`
	TargetsPerSecond   float64 `yaml:"targets_per_second" env:"REPAIR_TARGETS_PER_SECOND" env-default:"2"`
	ScanLimit          int     `yaml:"scan_limit" env:"REPAIR_SCAN_LIMIT" env-default:"100"`
}

// LLMConfig holds the OpenAI-compatible endpoint used by classification
// stages.
type LLMConfig struct {
	BaseURL string `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model   string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey  string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
}

// CDNConfig holds object-storage settings for thumbnail uploads.
type CDNConfig struct {
	Bucket  string `yaml:"bucket" env:"CDN_BUCKET" env-default:""`
	BaseURL string `yaml:"base_url" env:"CDN_BASE_URL" env-default:""`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time. When no
// config.yaml exists, environment variables and defaults alone apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.AcceptanceThreshold <= 0 || c.Pipeline.AcceptanceThreshold > 1 {
		return fmt.Errorf("pipeline.acceptance_threshold must be in (0, 1], got %v", c.Pipeline.AcceptanceThreshold)
	}
	if c.Pipeline.MinimumPostCount <= 0 {
		return fmt.Errorf("pipeline.minimum_post_count must be positive, got %d", c.Pipeline.MinimumPostCount)
	}
	if c.Pipeline.StageFanOut <= 0 {
		return fmt.Errorf("pipeline.stage_fan_out must be positive, got %d", c.Pipeline.StageFanOut)
	}
	if c.Pipeline.StageMaxRetries >= c.Fetcher.MaxRetries {
		return fmt.Errorf("pipeline.stage_max_retries (%d) must be below fetcher.max_retries (%d)",
			c.Pipeline.StageMaxRetries, c.Fetcher.MaxRetries)
	}
	if c.Repair.MaxConcurrency < c.Repair.DefaultConcurrency {
		return fmt.Errorf("repair.max_concurrency (%d) below repair.default_concurrency (%d)",
			c.Repair.MaxConcurrency, c.Repair.DefaultConcurrency)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
