package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the reconciler.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Log            LogConfig            `yaml:"log"`
	Seed           SeedConfig           `yaml:"seed"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the backend. Driver is "sqlite" (DSN is a file path
// or ":memory:") or "postgres" (DSN is a pgx connection string).
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ReconciliationConfig struct {
	Workers int `yaml:"workers"`
	// Used until a tolerance version is saved through the settings API.
	DefaultCashTolerance float64        `yaml:"default_cash_tolerance"`
	DefaultDateTolerance int            `yaml:"default_date_tolerance_days"`
	Severity             SeverityConfig `yaml:"severity"`
}

type SeverityConfig struct {
	LowMultiplier    float64 `yaml:"low_multiplier"`
	MediumMultiplier float64 `yaml:"medium_multiplier"`
	Epsilon          float64 `yaml:"epsilon"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "reconciler.db",
		},
		Reconciliation: ReconciliationConfig{
			Severity: SeverityConfig{
				LowMultiplier:    2,
				MediumMultiplier: 10,
				Epsilon:          0.01,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Seed: SeedConfig{
			Enabled: true,
			Dir:     "testdata",
		},
	}
}

// Load reads an optional .env file, then the YAML file at path (skipped when
// path is empty) and finally applies environment overrides.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("DB_DSN", cfg.Database.DSN)
	// DB_PATH is kept for sqlite deployments.
	if p := getEnv("DB_PATH", ""); p != "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = p
	}
	if url := getEnv("DATABASE_URL", ""); url != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = url
	}

	cfg.Reconciliation.Workers = getEnvInt("RECON_WORKERS", cfg.Reconciliation.Workers)
	cfg.Reconciliation.DefaultCashTolerance = getEnvFloat("RECON_CASH_TOLERANCE", cfg.Reconciliation.DefaultCashTolerance)
	cfg.Reconciliation.DefaultDateTolerance = getEnvInt("RECON_DATE_TOLERANCE_DAYS", cfg.Reconciliation.DefaultDateTolerance)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Seed.Enabled = getEnvBool("SEED_ENABLED", cfg.Seed.Enabled)
	cfg.Seed.Dir = getEnv("SEED_DIR", cfg.Seed.Dir)
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Reconciliation.Workers < 0 {
		return fmt.Errorf("reconciliation.workers must not be negative")
	}
	if c.Reconciliation.DefaultCashTolerance < 0 || c.Reconciliation.DefaultDateTolerance < 0 {
		return fmt.Errorf("reconciliation default tolerances must not be negative")
	}
	s := c.Reconciliation.Severity
	if s.LowMultiplier <= 0 || s.MediumMultiplier < s.LowMultiplier {
		return fmt.Errorf("reconciliation.severity multipliers must satisfy 0 < low <= medium, got %v/%v", s.LowMultiplier, s.MediumMultiplier)
	}
	if s.Epsilon <= 0 {
		return fmt.Errorf("reconciliation.severity.epsilon must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
