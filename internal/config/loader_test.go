package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MYLLM_HOST", "")
	t.Setenv("MYLLM_PORT", "")
	t.Setenv("MYLLM_MAX_LOADED_MODELS", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, DefaultHost, cfg.Host)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultMaxLoadedModels, cfg.MaxLoadedModels)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("MYLLM_HOST", "0.0.0.0")
	t.Setenv("MYLLM_PORT", "9090")
	t.Setenv("MYLLM_MAX_LOADED_MODELS", "5")
	t.Setenv("MYLLM_DEFAULT_TEMPERATURE", "0.2")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Host)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 5, cfg.MaxLoadedModels)
	require.InDelta(t, 0.2, cfg.DefaultTemperature, 1e-9)
}

func TestLoadRejectsNonPositiveMaxLoadedModels(t *testing.T) {
	t.Setenv("MYLLM_MAX_LOADED_MODELS", "0")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadInt(t *testing.T) {
	t.Setenv("MYLLM_PORT", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}
