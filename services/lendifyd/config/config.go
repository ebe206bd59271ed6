package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = ":8080"
	defaultEngineConfig    = "config.toml"
	defaultSweepInterval   = time.Minute
	defaultFlushInterval   = 30 * time.Second
	defaultPublishTimeout  = 5 * time.Second
	defaultEventBuffer     = 256
	defaultShutdownTimeout = 5 * time.Second
	defaultRatePerSecond   = 20
	defaultBurst           = 40
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress   string              `yaml:"listen"`
	EngineConfig    string              `yaml:"engine_config"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	TLS             TLSConfig           `yaml:"tls"`
	Log             LogConfig           `yaml:"log"`
	Analytics       AnalyticsConfig     `yaml:"analytics"`
	Sweeper         SweeperConfig       `yaml:"sweeper"`
	Events          EventsConfig        `yaml:"events"`
	RateLimit       RateLimitConfig     `yaml:"rate_limit"`
	CORS            CORSConfig          `yaml:"cors"`
	Observability   ObservabilityConfig `yaml:"observability"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// LogConfig controls the level and optional rotated file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AnalyticsConfig points the publisher at the analytics service. An empty
// endpoint disables publishing.
type AnalyticsConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	OutboxPath    string        `yaml:"outbox_path"`
	Timeout       time.Duration `yaml:"timeout"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Proxy         bool          `yaml:"proxy"`
}

// SweeperConfig schedules the background accrual sweep. Zero disables it.
type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// RateLimitConfig bounds each client of the /v1 API.
type RateLimitConfig struct {
	Disabled      bool           `yaml:"disabled"`
	RatePerSecond float64        `yaml:"rate_per_second"`
	Burst         int            `yaml:"burst"`
	Tokens        map[string]int `yaml:"tokens"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ObservabilityConfig struct {
	LogRequests bool `yaml:"log_requests"`
	Metrics     bool `yaml:"metrics"`
	Tracing     bool `yaml:"tracing"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the settings applied before the file is decoded.
func Default() Config {
	return Config{
		ListenAddress:   defaultListen,
		EngineConfig:    defaultEngineConfig,
		ShutdownTimeout: defaultShutdownTimeout,
		Sweeper:         SweeperConfig{Interval: defaultSweepInterval},
		Events:          EventsConfig{Buffer: defaultEventBuffer},
		RateLimit:       RateLimitConfig{RatePerSecond: defaultRatePerSecond, Burst: defaultBurst},
		Observability:   ObservabilityConfig{LogRequests: true, Metrics: true, Tracing: true},
	}
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.EngineConfig = strings.TrimSpace(cfg.EngineConfig)
	if cfg.EngineConfig == "" {
		cfg.EngineConfig = defaultEngineConfig
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Events.Buffer <= 0 {
		cfg.Events.Buffer = defaultEventBuffer
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.TLS.normalize()
	cfg.Analytics.normalize()
	cfg.RateLimit.normalize()

	origins := make([]string, 0, len(cfg.CORS.AllowedOrigins))
	for _, origin := range cfg.CORS.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.CORS.AllowedOrigins = origins
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Analytics.validate(); err != nil {
		return fmt.Errorf("analytics: %w", err)
	}
	if cfg.Sweeper.Interval < 0 {
		return fmt.Errorf("sweeper: interval must not be negative")
	}
	if err := cfg.RateLimit.validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

// Enabled reports whether events are published to the analytics service.
func (cfg AnalyticsConfig) Enabled() bool {
	return cfg.Endpoint != ""
}

func (cfg *AnalyticsConfig) normalize() {
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	cfg.OutboxPath = strings.TrimSpace(cfg.OutboxPath)
	if cfg.Endpoint == "" {
		return
	}
	if cfg.OutboxPath == "" {
		cfg.OutboxPath = "analytics-outbox.db"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPublishTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
}

func (cfg AnalyticsConfig) validate() error {
	if cfg.Endpoint == "" {
		if cfg.Proxy {
			return fmt.Errorf("proxy requires an endpoint")
		}
		return nil
	}
	parsed, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("endpoint must be an http(s) url")
	}
	if parsed.Host == "" {
		return fmt.Errorf("endpoint host required")
	}
	return nil
}

// URL returns the parsed endpoint. It is only meaningful when Enabled.
func (cfg AnalyticsConfig) URL() *url.URL {
	parsed, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil
	}
	return parsed
}

func (cfg *RateLimitConfig) normalize() {
	tokens := make(map[string]int, len(cfg.Tokens))
	for route, cost := range cfg.Tokens {
		method, path, ok := strings.Cut(strings.TrimSpace(route), " ")
		if !ok {
			continue
		}
		tokens[strings.ToUpper(method)+" "+strings.TrimSpace(path)] = cost
	}
	cfg.Tokens = tokens
}

func (cfg RateLimitConfig) validate() error {
	if cfg.Disabled {
		return nil
	}
	if cfg.RatePerSecond <= 0 {
		return fmt.Errorf("rate_per_second must be positive")
	}
	if cfg.Burst <= 0 {
		return fmt.Errorf("burst must be positive")
	}
	for route, cost := range cfg.Tokens {
		if cost <= 0 {
			return fmt.Errorf("token cost for %q must be positive", route)
		}
		if cost > cfg.Burst {
			return fmt.Errorf("token cost for %q exceeds burst %d", route, cfg.Burst)
		}
	}
	return nil
}
