package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/dualfit/internal/optimization"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5*time.Minute, cfg.Fit.Timeout)
	assert.Equal(t, 4, cfg.Server.MaxRunningFits)
	assert.Equal(t, optimization.DefaultSettings(), cfg.FitSettings())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("FIT_MAX_ITERATIONS", "50")
	t.Setenv("FIT_INIT_MU", "1e-2")
	t.Setenv("FIT_SEED", "42")
	t.Setenv("SERVER_START_RATE", "0.5")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, int64(42), cfg.Fit.Seed)
	assert.Equal(t, 0.5, cfg.Server.StartRate)
	assert.Equal(t, "warn", cfg.Logging.Level)

	settings := cfg.FitSettings()
	assert.Equal(t, 50, settings.MaxIterations)
	assert.Equal(t, 1e-2, settings.InitMu)
	assert.Equal(t, 1e-15, settings.Eps1)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparsable port", "HTTP_PORT", "eighty"},
		{"zero iterations", "FIT_MAX_ITERATIONS", "0"},
		{"negative mu", "FIT_INIT_MU", "-1"},
		{"negative eps", "FIT_EPS3", "-1e-20"},
		{"negative timeout", "FIT_TIMEOUT", "-1s"},
		{"no running fits", "SERVER_MAX_RUNNING_FITS", "0"},
		{"zero rate", "SERVER_START_RATE", "0"},
		{"zero burst", "SERVER_START_BURST", "0"},
		{"zero script size", "SERVER_MAX_SCRIPT_BYTES", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
