package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultPort            = 3000
	defaultSQLitePath      = "analytics.db"
	defaultShutdownTimeout = 5 * time.Second
)

// Config captures the runtime settings for the analytics daemon.
type Config struct {
	// ListenAddress overrides Port when set.
	ListenAddress   string         `yaml:"listen"`
	Port            int            `yaml:"port"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	Tracing         bool           `yaml:"tracing"`
}

// DatabaseConfig selects the gorm driver. Postgres reads DSN; sqlite reads
// Path.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads the YAML configuration. An empty path yields the defaults. The
// PORT and ANALYTICS_DATABASE_DSN environment variables override the file.
func Load(path string) (Config, error) {
	cfg := Config{Port: defaultPort}
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	if raw := strings.TrimSpace(os.Getenv("PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", raw, err)
		}
		cfg.Port = port
		cfg.ListenAddress = ""
	}
	if dsn := strings.TrimSpace(os.Getenv("ANALYTICS_DATABASE_DSN")); dsn != "" {
		cfg.Database.Driver = DriverPostgres
		cfg.Database.DSN = dsn
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = fmt.Sprintf(":%d", cfg.Port)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Database.DSN = strings.TrimSpace(cfg.Database.DSN)
	cfg.Database.Path = strings.TrimSpace(cfg.Database.Path)
	if cfg.Database.Driver == "" {
		if cfg.Database.DSN != "" {
			cfg.Database.Driver = DriverPostgres
		} else {
			cfg.Database.Driver = DriverSQLite
		}
	}
	if cfg.Database.Driver == DriverSQLite && cfg.Database.Path == "" {
		cfg.Database.Path = defaultSQLitePath
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
}

func (cfg Config) validate() error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database: dsn required for postgres")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("database: unsupported driver %q", cfg.Database.Driver)
	}
	return nil
}
