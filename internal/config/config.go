package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration lets YAML carry values like "800ms" or "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`

	// Store selects the presence backing: "memory" or "redis".
	Store     string `yaml:"store"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`

	CatalogPath string `yaml:"catalog_path"`

	Topic string `yaml:"topic"`

	OfflineAfter         Duration `yaml:"offline_after"`
	MinBroadcastInterval Duration `yaml:"min_broadcast_interval"`
	MinBroadcastDistance float64  `yaml:"min_broadcast_distance_m"`
	SweepEvery           Duration `yaml:"sweep_every"`

	DemoMovers bool `yaml:"demo_movers"`
}

func defaults() Config {
	return Config{
		HTTPPort:             "8080",
		MetricsPort:          "9000",
		Store:                "memory",
		RedisAddr:            "localhost:6379",
		RedisDB:              0,
		CatalogPath:          "trackify.db",
		Topic:                "all",
		OfflineAfter:         Duration(30 * time.Second),
		MinBroadcastInterval: Duration(800 * time.Millisecond),
		MinBroadcastDistance: 5.0,
		SweepEvery:           Duration(5 * time.Second),
		DemoMovers:           false,
	}
}

// Load builds the config from defaults, an optional YAML file (path in
// CONFIG_FILE), and env-var overrides, in that order.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.MetricsPort = getEnv("METRICS_PORT", cfg.MetricsPort)
	cfg.Store = getEnv("PRESENCE_STORE", cfg.Store)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.CatalogPath = getEnv("CATALOG_PATH", cfg.CatalogPath)
	cfg.Topic = getEnv("PRESENCE_TOPIC", cfg.Topic)
	cfg.DemoMovers = getEnvBool("DEMO_MOVERS", cfg.DemoMovers)

	if cfg.Store != "memory" && cfg.Store != "redis" {
		return cfg, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}
