package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "")
	setEnv(t, "PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Window)
	assert.Equal(t, 15*time.Minute, cfg.BlockDuration)
	assert.Equal(t, 1000, cfg.APIRateLimit)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.False(t, cfg.AllowAdminReset)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "MAX_FAILED_ATTEMPTS", "3")
	setEnv(t, "BLOCK_DURATION", "30m")
	setEnv(t, "ENFORCE_RATE_LIMITING", "false")
	setEnv(t, "ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.BlockDuration)
	assert.False(t, cfg.EnforceRateLimiting)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				Env:           "development",
				MaxAttempts:   5,
				Window:        5 * time.Minute,
				BlockDuration: 15 * time.Minute,
			},
			wantErr: "",
		},
		{
			name: "non-positive attempts",
			config: Config{
				Env:           "development",
				MaxAttempts:   0,
				Window:        5 * time.Minute,
				BlockDuration: 15 * time.Minute,
			},
			wantErr: "MAX_FAILED_ATTEMPTS",
		},
		{
			name: "non-positive window",
			config: Config{
				Env:           "development",
				MaxAttempts:   5,
				BlockDuration: 15 * time.Minute,
			},
			wantErr: "RATE_WINDOW",
		},
		{
			name: "production requires admin secret",
			config: Config{
				Env:           "production",
				MaxAttempts:   5,
				Window:        5 * time.Minute,
				BlockDuration: 15 * time.Minute,
			},
			wantErr: "ADMIN_SECRET is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_ProductionDisablesAdminReset(t *testing.T) {
	cfg := Config{
		Env:             "production",
		AdminSecret:     "s3cret",
		MaxAttempts:     5,
		Window:          5 * time.Minute,
		BlockDuration:   15 * time.Minute,
		AllowAdminReset: true,
	}
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.AllowAdminReset)
}

func TestConfig_Monitor(t *testing.T) {
	cfg := Config{
		EnforceRateLimiting: true,
		MaxAttempts:         7,
		Window:              2 * time.Minute,
		BlockDuration:       time.Hour,
		APIRateLimit:        500,
		APIWindow:           time.Minute,
		APIBlockDuration:    10 * time.Minute,
		LockoutThreshold:    4,
		LockoutDuration:     2 * time.Hour,
		SweepInterval:       30 * time.Minute,
	}

	m := cfg.Monitor()
	assert.True(t, m.EnforceRateLimiting)
	assert.Equal(t, 7, m.MaxAttempts)
	assert.Equal(t, 2*time.Minute, m.Window)
	assert.Equal(t, time.Hour, m.BlockDuration)
	assert.Equal(t, 500, m.APIRateLimit)
	assert.Equal(t, 4, m.LockoutThreshold)
	assert.False(t, m.AllowAdminReset)
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_DUR_BAD", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_BAD", time.Minute))
}

func TestSplitCSV(t *testing.T) {
	assert.Nil(t, splitCSV(""))
	assert.Equal(t, []string{"a", "b"}, splitCSV("a, b,"))
}
