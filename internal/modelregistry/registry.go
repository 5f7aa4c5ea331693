// Package modelregistry implements the Model Registry (C5): discovery
// of model directories on disk and name -> (path, config) resolution.
package modelregistry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/localforge/myllm/internal/apierr"
)

// ModelConfig is the per-model configuration artifact, read once from
// <models_dir>/<name>/config.json and treated as read-only afterward.
type ModelConfig struct {
	Name         string                 `json:"name"`
	Family       string                 `json:"family"`
	Quantization string                 `json:"quantization"`
	ContextSize  int                    `json:"context_size"`
	Template     string                 `json:"template"`
	Parameters   map[string]interface{} `json:"parameters"`
}

// ModelInfo is a ModelConfig enriched with discovery-time and
// cache-state facts.
type ModelInfo struct {
	ModelConfig
	SizeBytes int64 `json:"size_bytes"`
	Loaded    bool  `json:"loaded"`
}

type entry struct {
	info ModelInfo
	path string
}

// Registry discovers models under a root directory. Each immediate
// subdirectory whose name is the model's logical name must contain
// exactly one *.gguf weights artifact and a config.json matching
// ModelConfig. A directory missing either is skipped with a warning,
// not registered with a synthesized default.
type Registry struct {
	mu        sync.RWMutex
	modelsDir string
	entries   map[string]entry
}

// New creates a registry rooted at modelsDir. Callers must call Scan
// before List/GetConfig/GetPath return anything.
func New(modelsDir string) *Registry {
	return &Registry{modelsDir: modelsDir, entries: map[string]entry{}}
}

// Scan re-reads modelsDir and replaces the registry's contents.
// Individual malformed model directories are skipped and logged rather
// than failing the whole scan; a missing modelsDir itself is not an
// error (yields an empty registry), mirroring the reference registry's
// tolerant startup behavior.
func (r *Registry) Scan() ([]ModelInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = map[string]entry{}

	dirEntries, err := os.ReadDir(r.modelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("models_dir", r.modelsDir).Msg("models directory not found")
			return nil, nil
		}
		return nil, apierr.Configuration("failed to read models directory: " + err.Error())
	}

	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(r.modelsDir, de.Name())
		info, path, ok := loadModelDir(dir, de.Name())
		if !ok {
			continue
		}
		r.entries[info.Name] = entry{info: info, path: path}
	}

	log.Info().Int("count", len(r.entries)).Str("models_dir", r.modelsDir).Msg("scanned models directory")
	return r.listLocked(), nil
}

func loadModelDir(dir, name string) (ModelInfo, string, bool) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.gguf"))
	if err != nil || len(matches) == 0 {
		log.Warn().Str("dir", dir).Msg("no gguf weights artifact found")
		return ModelInfo{}, "", false
	}
	if len(matches) > 1 {
		log.Warn().Str("dir", dir).Int("count", len(matches)).Msg("ambiguous weights artifacts, skipping")
		return ModelInfo{}, "", false
	}
	weightsPath := matches[0]

	configPath := filepath.Join(dir, "config.json")
	raw, err := os.ReadFile(configPath)
	if err != nil {
		log.Warn().Str("dir", dir).Msg("no config.json found, skipping")
		return ModelInfo{}, "", false
	}

	var cfg ModelConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("failed to parse config.json, skipping")
		return ModelInfo{}, "", false
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	if cfg.ContextSize <= 0 {
		log.Warn().Str("dir", dir).Msg("config.json has non-positive context_size, skipping")
		return ModelInfo{}, "", false
	}

	st, err := os.Stat(weightsPath)
	if err != nil {
		return ModelInfo{}, "", false
	}

	return ModelInfo{ModelConfig: cfg, SizeBytes: st.Size()}, weightsPath, true
}

// GetConfig returns the parsed config for name. Unknown name or a
// directory with no config.json is a not-found error; there is no
// synthesized default.
func (r *Registry) GetConfig(name string) (ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return ModelConfig{}, apierr.ModelNotFound(name)
	}
	return e.info.ModelConfig, nil
}

// GetPath returns the weights artifact path for name.
func (r *Registry) GetPath(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return "", apierr.ModelNotFound(name)
	}
	return e.path, nil
}

// List returns every discovered model, sorted by name.
func (r *Registry) List() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []ModelInfo {
	out := make([]ModelInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].Name, out[j].Name) < 0 })
	return out
}

// MarkLoaded sets the loaded flag that List reports for name, or returns
// a not-found error for an unknown name. The flag changes only through
// this call; the Model Cache is the source of truth for what is
// actually loaded.
func (r *Registry) MarkLoaded(name string, loaded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return apierr.ModelNotFound(name)
	}
	e.info.Loaded = loaded
	r.entries[name] = e
	return nil
}
