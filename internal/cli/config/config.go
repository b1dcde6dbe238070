package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/docengine/internal/logging"
)

// Config represents the docengine configuration
type Config struct {
	Log    logging.Config `mapstructure:"log"`
	Store  StoreConfig    `mapstructure:"store"`
	Redis  RedisConfig    `mapstructure:"redis"`
	Limits LimitsConfig   `mapstructure:"limits"`
	Models ModelsConfig   `mapstructure:"models"`
	API    APIConfig      `mapstructure:"api"`
}

// StoreConfig selects the shared document store
type StoreConfig struct {
	// Driver is memory, sqlite, postgres or bolt
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig enables the space directory cache when Addr is set
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LimitsConfig holds tenant plan ceilings, 0 disables a ceiling
type LimitsConfig struct {
	Data       int `mapstructure:"data"`
	Models     int `mapstructure:"models"`
	Properties int `mapstructure:"properties"`
}

// ModelsConfig locates the model specifications registered at startup
type ModelsConfig struct {
	Dir string `mapstructure:"dir"`
}

// APIConfig describes generated API documents
type APIConfig struct {
	Title   string `mapstructure:"title"`
	Version string `mapstructure:"version"`
}

// Load reads docengine.yaml from dir, or from the working directory when dir
// is empty, and applies DOCENGINE_* environment overrides. A missing file
// leaves the defaults in place.
func Load(dir string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)
	v.SetDefault("limits.data", 0)
	v.SetDefault("limits.models", 0)
	v.SetDefault("limits.properties", 0)
	v.SetDefault("models.dir", "models")
	v.SetDefault("api.title", "docengine")
	v.SetDefault("api.version", "1.0.0")

	v.SetConfigName("docengine")
	v.SetConfigType("yaml")
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)

	v.SetEnvPrefix("DOCENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
	case "sqlite", "sqlite3", "postgres", "postgresql", "pgx", "bolt", "bbolt":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be memory, sqlite, postgres or bolt, got: %s", cfg.Store.Driver)
	}

	for name, n := range map[string]int{
		"limits.data":       cfg.Limits.Data,
		"limits.models":     cfg.Limits.Models,
		"limits.properties": cfg.Limits.Properties,
	} {
		if n < 0 {
			return fmt.Errorf("%s must not be negative, got: %d", name, n)
		}
	}
	return nil
}
