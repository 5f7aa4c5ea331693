// Package config loads runtime configuration from the environment,
// following the env-var-first pattern used throughout this codebase's
// reference tree (see internal/config/loader.go in the pack this was
// adapted from): start from the defaults, then override each field whose
// strings.TrimSpace(os.Getenv(...)) value is non-empty.
package config

// Config holds every setting the runtime consults. All fields are
// optional at the environment level; Load applies defaults for anything
// left unset.
type Config struct {
	Host string
	Port int

	ModelsDir string
	DBPath    string

	DefaultContextSize  int
	DefaultGPULayers    int // -1 = all layers on GPU
	DefaultTemperature  float64
	DefaultTopP         float64
	DefaultMaxTokens    int

	MaxLoadedModels      int
	SessionRetentionDays int
	MaxSessionMessages   int

	LogLevel string
	LogPath  string
}

// Defaults mirror spec §6 and the original Python settings
// (app/core/config.py's Settings class).
const (
	DefaultHost                = "127.0.0.1"
	DefaultPort                = 8000
	DefaultModelsDir            = "./models_data"
	DefaultDBPath               = "./myllm.db"
	DefaultContextSize          = 4096
	DefaultGPULayers            = -1
	DefaultTemperature          = 0.7
	DefaultTopP                 = 0.9
	DefaultMaxTokens            = 512
	DefaultMaxLoadedModels      = 3
	DefaultSessionRetentionDays = 30
	DefaultMaxSessionMessages   = 1000
	DefaultLogLevel             = "info"
)
