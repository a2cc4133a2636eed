package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loaderConfig struct {
	Port     int    `env:"LOADER_TEST_PORT" envDefault:"8008"`
	Host     string `env:"LOADER_TEST_HOST" envDefault:"localhost"`
	LogLevel string `env:"LOADER_TEST_LOG_LEVEL" envDefault:"info"`
	Debug    bool   `env:"LOADER_TEST_DEBUG" envDefault:"false"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg loaderConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 8008, cfg.Port)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Debug)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("LOADER_TEST_PORT", "9090")
	t.Setenv("LOADER_TEST_HOST", "0.0.0.0")
	t.Setenv("LOADER_TEST_LOG_LEVEL", "debug")
	t.Setenv("LOADER_TEST_DEBUG", "true")

	var cfg loaderConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Debug)
}

type secretConfig struct {
	APIKey string `env:"LOADER_TEST_API_KEY,required"`
}

func TestLoad_RequiredField(t *testing.T) {
	var cfg secretConfig
	err := Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")

	t.Setenv("LOADER_TEST_API_KEY", "secret-123")
	require.NoError(t, Load(&cfg))
	assert.Equal(t, "secret-123", cfg.APIKey)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("LOADER_TEST_PORT", "not-a-number")

	var cfg loaderConfig
	err := Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
