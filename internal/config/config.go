// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Source   SourceConfig   `mapstructure:"source"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Render   RenderConfig   `mapstructure:"render"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP query surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PipelineConfig governs tier enablement and orchestration behavior.
type PipelineConfig struct {
	EnableAPI             bool    `mapstructure:"enable_api"`
	EnableCrawl           bool    `mapstructure:"enable_crawl"`
	EnablePDF             bool    `mapstructure:"enable_pdf"`
	FetchConcurrency      int     `mapstructure:"fetch_concurrency"`
	ExtractionConcurrency int     `mapstructure:"extraction_concurrency"`
	MinConfidence         float64 `mapstructure:"min_confidence"`
}

// SourceConfig identifies what to harvest and how politely.
type SourceConfig struct {
	TargetState  string   `mapstructure:"target_state"`
	SeedURLs     []string `mapstructure:"seed_urls"`
	AllowHosts   []string `mapstructure:"allow_hosts"`
	MaxDepth     int      `mapstructure:"max_depth"`
	DelaySeconds float64  `mapstructure:"delay_seconds"`
	UserAgent    string   `mapstructure:"user_agent"`
	APIKey       string   `mapstructure:"api_key"`
	APIBaseURL   string   `mapstructure:"api_base_url"`
	Commodities  []string `mapstructure:"commodities"`
	YearStart    int      `mapstructure:"year_start"`
	YearEnd      int      `mapstructure:"year_end"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// RenderConfig configures the headless rendering subsystem.
type RenderConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	NavTimeoutSec  int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS      float64 `mapstructure:"domain_qps"`
	MinHTMLBytes   int     `mapstructure:"min_html_bytes"`
	MarkerKeywords string  `mapstructure:"marker_keywords"`
}

// StorageConfig selects the document blob backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for program-updated notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("pipeline.enable_api", true)
	v.SetDefault("pipeline.enable_crawl", true)
	v.SetDefault("pipeline.enable_pdf", true)
	v.SetDefault("pipeline.fetch_concurrency", 3)
	v.SetDefault("pipeline.extraction_concurrency", 8)
	v.SetDefault("pipeline.min_confidence", 0.5)
	v.SetDefault("source.target_state", "ND")
	v.SetDefault("source.seed_urls", []string{
		"https://www.fsa.usda.gov/programs-and-services/",
		"https://www.fsa.usda.gov/state-offices/North-Dakota/",
	})
	v.SetDefault("source.allow_hosts", []string{"www.fsa.usda.gov", "fsa.usda.gov"})
	v.SetDefault("source.max_depth", 3)
	v.SetDefault("source.delay_seconds", 2.5)
	v.SetDefault("source.user_agent", "farm-assist-harvester/0.1 (research)")
	v.SetDefault("source.api_base_url", "https://quickstats.nass.usda.gov/api/api_GET/")
	v.SetDefault("source.commodities", []string{"CORN", "SOYBEANS", "WHEAT", "BARLEY", "SUNFLOWER"})
	v.SetDefault("source.year_start", 2018)
	v.SetDefault("source.year_end", 2023)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.max_parallel", 1)
	v.SetDefault("render.nav_timeout_seconds", 25)
	v.SetDefault("render.domain_qps", 0.5)
	v.SetDefault("render.min_html_bytes", 2048)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "./data/pdfs")
	v.SetDefault("storage.prefix", "documents")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.migrate", true)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.FetchConcurrency <= 0 {
		return fmt.Errorf("pipeline.fetch_concurrency must be > 0")
	}
	if c.Pipeline.ExtractionConcurrency <= 0 {
		return fmt.Errorf("pipeline.extraction_concurrency must be > 0")
	}
	if c.Pipeline.MinConfidence < 0 || c.Pipeline.MinConfidence > 1 {
		return fmt.Errorf("pipeline.min_confidence must be in [0,1]")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when rendering is enabled")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when provider is gcs")
		}
	case "local", "memory":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the initial retry backoff.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry backoff ceiling.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// CrawlDelay returns the polite delay between fetches on one domain.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Source.DelaySeconds * float64(time.Second))
}
