// Package config loads service settings from defaults, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	DBDriver    string   `mapstructure:"DB_DRIVER"`
	DBPath      string   `mapstructure:"DB_PATH"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	SeedPath    string   `mapstructure:"SEED_PATH"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	WialonAPIURL string `mapstructure:"WIALON_API_URL"`
	WialonToken  string `mapstructure:"WIALON_TOKEN"`

	PositionSyncInterval time.Duration `mapstructure:"POSITION_SYNC_INTERVAL"`
	UnitSyncInterval     time.Duration `mapstructure:"UNIT_SYNC_INTERVAL"`
	SyncTimeout          time.Duration `mapstructure:"SYNC_TIMEOUT"`
	OnlineFreshness      time.Duration `mapstructure:"ONLINE_FRESHNESS"`

	ArrivalRadiusKm float64 `mapstructure:"ARRIVAL_RADIUS_KM"`
	AverageSpeedKmh float64 `mapstructure:"AVERAGE_SPEED_KMH"`
}

var defaults = map[string]any{
	"PORT":                   "8080",
	"DB_DRIVER":              "sqlite",
	"DB_PATH":                "data/fleet.db",
	"DATABASE_URL":           "",
	"REDIS_URL":              "",
	"SEED_PATH":              "",
	"CORS_ORIGINS":           []string{"*"},
	"WIALON_API_URL":         "https://hst-api.wialon.com/wialon/ajax.html",
	"WIALON_TOKEN":           "",
	"POSITION_SYNC_INTERVAL": 30 * time.Second,
	"UNIT_SYNC_INTERVAL":     5 * time.Minute,
	"SYNC_TIMEOUT":           10 * time.Second,
	"ONLINE_FRESHNESS":       5 * time.Minute,
	"ARRIVAL_RADIUS_KM":      0.1,
	"AVERAGE_SPEED_KMH":      40.0,
}

// Load builds a Config. path names an optional YAML file; empty skips it.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("load config: decode: %w", err)
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.ArrivalRadiusKm <= 0 {
		return fmt.Errorf("ARRIVAL_RADIUS_KM must be positive")
	}
	if c.AverageSpeedKmh <= 0 {
		return fmt.Errorf("AVERAGE_SPEED_KMH must be positive")
	}
	return nil
}

// Get returns the environment value for key, or fallback when unset.
func Get(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
