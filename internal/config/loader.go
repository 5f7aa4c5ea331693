package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads configuration from environment variables, optionally
// overlaid with a .env file in the working directory. Unlike a typical
// godotenv.Load, Overload lets the .env file win over any OS-level
// environment variable already set, so a repository-local .env gives
// deterministic behavior across dev machines.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Host:                 DefaultHost,
		Port:                 DefaultPort,
		ModelsDir:            DefaultModelsDir,
		DBPath:               DefaultDBPath,
		DefaultContextSize:   DefaultContextSize,
		DefaultGPULayers:     DefaultGPULayers,
		DefaultTemperature:   DefaultTemperature,
		DefaultTopP:          DefaultTopP,
		DefaultMaxTokens:     DefaultMaxTokens,
		MaxLoadedModels:      DefaultMaxLoadedModels,
		SessionRetentionDays: DefaultSessionRetentionDays,
		MaxSessionMessages:   DefaultMaxSessionMessages,
		LogLevel:             DefaultLogLevel,
	}

	if v := strings.TrimSpace(os.Getenv("MYLLM_HOST")); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_PORT")); v != "" {
		n, err := parseInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("MYLLM_PORT: %w", err)
		}
		cfg.Port = n
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_MODELS_DIR")); v != "" {
		cfg.ModelsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_DB_PATH")); v != "" {
		cfg.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_DEFAULT_CONTEXT_SIZE")); v != "" {
		n, err := parseInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("MYLLM_DEFAULT_CONTEXT_SIZE: %w", err)
		}
		cfg.DefaultContextSize = n
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_DEFAULT_GPU_LAYERS")); v != "" {
		n, err := parseInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("MYLLM_DEFAULT_GPU_LAYERS: %w", err)
		}
		cfg.DefaultGPULayers = n
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_DEFAULT_TEMPERATURE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("MYLLM_DEFAULT_TEMPERATURE: %w", err)
		}
		cfg.DefaultTemperature = f
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_DEFAULT_TOP_P")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("MYLLM_DEFAULT_TOP_P: %w", err)
		}
		cfg.DefaultTopP = f
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_DEFAULT_MAX_TOKENS")); v != "" {
		n, err := parseInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("MYLLM_DEFAULT_MAX_TOKENS: %w", err)
		}
		cfg.DefaultMaxTokens = n
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_MAX_LOADED_MODELS")); v != "" {
		n, err := parseInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("MYLLM_MAX_LOADED_MODELS: %w", err)
		}
		cfg.MaxLoadedModels = n
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_SESSION_RETENTION_DAYS")); v != "" {
		n, err := parseInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("MYLLM_SESSION_RETENTION_DAYS: %w", err)
		}
		cfg.SessionRetentionDays = n
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_MAX_SESSION_MESSAGES")); v != "" {
		n, err := parseInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("MYLLM_MAX_SESSION_MESSAGES: %w", err)
		}
		cfg.MaxSessionMessages = n
	}
	if v := strings.TrimSpace(os.Getenv("MYLLM_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	cfg.LogPath = strings.TrimSpace(os.Getenv("MYLLM_LOG_PATH"))

	absModels, err := filepath.Abs(cfg.ModelsDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve models dir: %w", err)
	}
	cfg.ModelsDir = absModels

	absDB, err := filepath.Abs(cfg.DBPath)
	if err != nil {
		return Config{}, fmt.Errorf("resolve db path: %w", err)
	}
	cfg.DBPath = absDB

	if cfg.MaxLoadedModels <= 0 {
		return Config{}, fmt.Errorf("MYLLM_MAX_LOADED_MODELS must be positive, got %d", cfg.MaxLoadedModels)
	}

	return cfg, nil
}

func parseInt(v string) (int, error) {
	return strconv.Atoi(v)
}
