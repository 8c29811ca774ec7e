package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"lmmpower/adapters/lmm"
	"lmmpower/internal"
	"lmmpower/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Log       LogConfig
	Engine    EngineConfig
	Database  DatabaseConfig
	Server    ServerConfig
	Profiling ProfilingConfig
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=error warn info debug trace ERROR WARN INFO DEBUG TRACE"`
	Format string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`
}

// EngineConfig holds simulation and fitting settings
type EngineConfig struct {
	// Workers is the default replicate concurrency; 0 means one per CPU
	Workers           int     `env:"LMMPOWER_WORKERS" envDefault:"0" validate:"gte=0"`
	REML              bool    `env:"LMMPOWER_REML" envDefault:"false"`
	MaxIterations     int     `env:"LMMPOWER_MAX_ITERATIONS" envDefault:"2000" validate:"gt=0"`
	SingularTolerance float64 `env:"LMMPOWER_SINGULAR_TOLERANCE" envDefault:"1e-4" validate:"gt=0,lt=1"`
	CacheSize         int     `env:"LMMPOWER_CACHE_SIZE" envDefault:"64" validate:"gte=0"`
}

// DatabaseConfig holds database connection settings. An empty URL disables
// persistence.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port           string `env:"PORT" envDefault:"8080" validate:"required,numeric"`
	GinMode        string `env:"GIN_MODE" envDefault:"release" validate:"oneof=debug release test"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
}

// ProfilingConfig holds performance profiling settings
type ProfilingConfig struct {
	Port    string `env:"PPROF_PORT" envDefault:"6060" validate:"required,numeric"`
	Enabled bool   `env:"PPROF_ENABLED" envDefault:"false"`
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("failed to parse environment: %w", err))
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return errors.Wrap(errors.ConfigInvalid(err.Error()), "configuration validation failed")
	}
	return nil
}

// FitterConfig converts the engine settings into the fitter's configuration
func (c *Config) FitterConfig() lmm.Config {
	cfg := lmm.DefaultConfig()
	cfg.REML = c.Engine.REML
	cfg.MaxIterations = c.Engine.MaxIterations
	cfg.SingularTolerance = c.Engine.SingularTolerance
	return cfg
}

// Logger builds the configured logger
func (c *Config) Logger() *internal.Logger {
	return internal.NewLoggerWithFormat(internal.ParseLogLevel(c.Log.Level), c.Log.Format)
}
