package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/dualfit/internal/optimization"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Fit struct {
		MaxIterations int           `env:"FIT_MAX_ITERATIONS" envDefault:"500"`
		InitMu        float64       `env:"FIT_INIT_MU" envDefault:"1e-3"`
		Eps1          float64       `env:"FIT_EPS1" envDefault:"1e-15"`
		Eps2          float64       `env:"FIT_EPS2" envDefault:"1e-15"`
		Eps3          float64       `env:"FIT_EPS3" envDefault:"1e-20"`
		Seed          int64         `env:"FIT_SEED" envDefault:"0"`
		Timeout       time.Duration `env:"FIT_TIMEOUT" envDefault:"5m"`
	}
	Server struct {
		MaxRunningFits int     `env:"SERVER_MAX_RUNNING_FITS" envDefault:"4"`
		StartRate      float64 `env:"SERVER_START_RATE" envDefault:"2"`
		StartBurst     int     `env:"SERVER_START_BURST" envDefault:"5"`
		MaxScriptBytes int64   `env:"SERVER_MAX_SCRIPT_BYTES" envDefault:"1048576"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Fit.MaxIterations < 1:
		return fmt.Errorf("FIT_MAX_ITERATIONS must be positive, got %d", c.Fit.MaxIterations)
	case !(c.Fit.InitMu > 0):
		return fmt.Errorf("FIT_INIT_MU must be positive, got %g", c.Fit.InitMu)
	case c.Fit.Eps1 < 0 || c.Fit.Eps2 < 0 || c.Fit.Eps3 < 0:
		return fmt.Errorf("FIT_EPS1, FIT_EPS2 and FIT_EPS3 must not be negative")
	case c.Fit.Timeout < 0:
		return fmt.Errorf("FIT_TIMEOUT must not be negative, got %s", c.Fit.Timeout)
	case c.Server.MaxRunningFits < 1:
		return fmt.Errorf("SERVER_MAX_RUNNING_FITS must be positive, got %d", c.Server.MaxRunningFits)
	case !(c.Server.StartRate > 0):
		return fmt.Errorf("SERVER_START_RATE must be positive, got %g", c.Server.StartRate)
	case c.Server.StartBurst < 1:
		return fmt.Errorf("SERVER_START_BURST must be positive, got %d", c.Server.StartBurst)
	case c.Server.MaxScriptBytes < 1:
		return fmt.Errorf("SERVER_MAX_SCRIPT_BYTES must be positive, got %d", c.Server.MaxScriptBytes)
	}
	return nil
}

// FitSettings returns the minimizer settings from the FIT_* variables.
func (c *Config) FitSettings() optimization.Settings {
	return optimization.Settings{
		MaxIterations: c.Fit.MaxIterations,
		InitMu:        c.Fit.InitMu,
		Eps1:          c.Fit.Eps1,
		Eps2:          c.Fit.Eps2,
		Eps3:          c.Fit.Eps3,
	}
}
