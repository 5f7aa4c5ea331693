package modelregistry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localforge/myllm/internal/apierr"
)

func writeModelDir(t *testing.T, root, name, config string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights.gguf"), []byte("fake"), 0o644))
	if config != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0o644))
	}
}

func TestScanDiscoversWellFormedModels(t *testing.T) {
	root := t.TempDir()
	writeModelDir(t, root, "tiny-llama", `{
		"name": "tiny-llama",
		"family": "llama",
		"quantization": "Q4_K_M",
		"context_size": 4096,
		"template": "llama"
	}`)

	reg := New(root)
	infos, err := reg.Scan()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "tiny-llama", infos[0].Name)
	require.Equal(t, "llama", infos[0].Family)
	require.Greater(t, infos[0].SizeBytes, int64(0))
}

func TestScanSkipsDirectoryMissingConfig(t *testing.T) {
	root := t.TempDir()
	writeModelDir(t, root, "no-config", "")

	reg := New(root)
	infos, err := reg.Scan()
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestScanSkipsDirectoryMissingWeights(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "no-weights")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"name":"x","family":"llama","quantization":"q","context_size":2048,"template":"llama"}`), 0o644))

	reg := New(root)
	infos, err := reg.Scan()
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestScanToleratesMissingModelsDir(t *testing.T) {
	reg := New(filepath.Join(t.TempDir(), "does-not-exist"))
	infos, err := reg.Scan()
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestGetConfigUnknownNameIsNotFound(t *testing.T) {
	reg := New(t.TempDir())
	_, err := reg.Scan()
	require.NoError(t, err)

	_, err = reg.GetConfig("ghost")
	require.ErrorIs(t, err, apierr.ErrModelNotFound)
}

func TestGetPathAndMarkLoaded(t *testing.T) {
	root := t.TempDir()
	writeModelDir(t, root, "m", `{"name":"m","family":"qwen","quantization":"Q4_0","context_size":8192,"template":"qwen"}`)

	reg := New(root)
	_, err := reg.Scan()
	require.NoError(t, err)

	path, err := reg.GetPath("m")
	require.NoError(t, err)
	require.FileExists(t, path)

	require.NoError(t, reg.MarkLoaded("m", true))
	infos := reg.List()
	require.True(t, infos[0].Loaded)
}
