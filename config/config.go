package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/personaflow/briefing"
	"github.com/BaSui01/personaflow/completion"
)

// Config is the engine's full configuration.
type Config struct {
	Log          LogConfig               `yaml:"log"`
	Budget       briefing.Budget         `yaml:"budget"`
	Gemini       completion.GeminiConfig `yaml:"gemini"`
	Redis        RedisConfig             `yaml:"redis"`
	Database     DatabaseConfig          `yaml:"database"`
	Session      SessionConfig           `yaml:"session"`
	Orchestrator OrchestratorConfig      `yaml:"orchestrator"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
	// OutputPaths are zap sink URLs; defaults to stderr.
	OutputPaths []string `yaml:"output_paths"`
	// EnableCaller annotates entries with file and line.
	EnableCaller bool `yaml:"enable_caller"`
}

// RedisConfig configures the turn cache connection. When disabled the
// engine falls back to an in-process cache.
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// DatabaseConfig configures the GORM-backed store.
type DatabaseConfig struct {
	// Driver is one of postgres, mysql, sqlite.
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SessionConfig configures client-side session state.
type SessionConfig struct {
	// PointerPath is where the active-session pointer file lives.
	PointerPath string `yaml:"pointer_path"`
	// TurnTTL bounds cached turn lists.
	TurnTTL time.Duration `yaml:"turn_ttl"`
}

// OrchestratorConfig tunes the conversation engine.
type OrchestratorConfig struct {
	// CompletionTimeout bounds each completion call; zero disables it.
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
	// MetricsNamespace prefixes the Prometheus instruments.
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []string
	if err := c.Budget.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// BuildLogger constructs a zap logger from the log section.
func (lc LogConfig) BuildLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if lc.Level != "" {
		if err := level.Set(lc.Level); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if len(lc.OutputPaths) > 0 {
		zc.OutputPaths = lc.OutputPaths
	}
	zc.DisableCaller = !lc.EnableCaller
	return zc.Build()
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Budget: briefing.DefaultBudget(),
		Gemini: completion.GeminiConfig{
			Model:   "gemini-2.5-flash",
			BaseURL: "https://generativelanguage.googleapis.com",
			Timeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "personaflow.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		},
		Session: SessionConfig{
			PointerPath: ".personaflow/active-session.json",
			TurnTTL:     24 * time.Hour,
		},
		Orchestrator: OrchestratorConfig{
			CompletionTimeout: 2 * time.Minute,
			MetricsNamespace:  "personaflow",
		},
	}
}
