// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
}

// ServerConfig controls the ops HTTP server (health + metrics).
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScraperConfig governs scheduling and crawl pipeline behavior.
type ScraperConfig struct {
	Concurrency   int `mapstructure:"concurrency"`
	BatchSize     int `mapstructure:"batch_size"`
	PageChunkSize int `mapstructure:"page_chunk_size"`
	RunBudgetMin  int `mapstructure:"run_budget_minutes"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	RequestDelayMs int `mapstructure:"request_delay_ms"`
	MaxRetries     int `mapstructure:"max_retries"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// PlatformConfig identifies the remote activities platform.
type PlatformConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// IngestionConfig governs commit batching.
type IngestionConfig struct {
	UpsertBatchSize int `mapstructure:"upsert_batch_size"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scraper.concurrency", 5)
	v.SetDefault("scraper.batch_size", 20)
	v.SetDefault("scraper.page_chunk_size", 5)
	v.SetDefault("scraper.run_budget_minutes", 0)
	v.SetDefault("http.request_delay_ms", 500)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("logging.development", false)
	v.SetDefault("platform.base_url", "https://activities.esn.org")
	v.SetDefault("ingestion.upsert_batch_size", 100)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.PageChunkSize <= 0 {
		return fmt.Errorf("scraper.page_chunk_size must be > 0")
	}
	if c.HTTP.RequestDelayMs < 100 {
		return fmt.Errorf("http.request_delay_ms must be >= 100")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if c.Ingestion.UpsertBatchSize <= 0 {
		return fmt.Errorf("ingestion.upsert_batch_size must be > 0")
	}
	return nil
}

// RequestDelay converts the configured inter-request spacing to a Duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.HTTP.RequestDelayMs) * time.Millisecond
}

// RequestTimeout converts the configured fetch timeout to a Duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RunBudget returns the run-level time budget, zero meaning unbounded.
func (c Config) RunBudget() time.Duration {
	return time.Duration(c.Scraper.RunBudgetMin) * time.Minute
}
