package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localforge/myllm/internal/engine"
	"github.com/localforge/myllm/internal/modelcache"
	"github.com/localforge/myllm/internal/modelregistry"
	"github.com/localforge/myllm/internal/runtime"
	"github.com/localforge/myllm/internal/session"
)

type scriptedEngine struct {
	fragments []string
	usage     engine.UsageRecord
}

func (s *scriptedEngine) Generate(ctx context.Context, prompt string, params engine.Params) (<-chan engine.Fragment, error) {
	ch := make(chan engine.Fragment, len(s.fragments))
	for _, f := range s.fragments {
		ch <- engine.Fragment{Text: f}
	}
	close(ch)
	return ch, nil
}
func (s *scriptedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}
func (s *scriptedEngine) Tokenize(text string) ([]int32, error)     { return nil, nil }
func (s *scriptedEngine) Detokenize(tokens []int32) (string, error) { return "", nil }
func (s *scriptedEngine) LastUsage() engine.UsageRecord              { return s.usage }
func (s *scriptedEngine) Close() error                               { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	modelDir := filepath.Join(root, "tiny")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "model.gguf"), []byte("fake"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "config.json"), []byte(
		`{"name":"tiny","family":"qwen","quantization":"Q4_K_M","context_size":4096,"template":"qwen"}`,
	), 0o644))

	reg := modelregistry.New(root)
	_, err := reg.Scan()
	require.NoError(t, err)

	eng := &scriptedEngine{fragments: []string{"hi", " there"}, usage: engine.UsageRecord{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}
	cache := modelcache.New(2, func(ctx context.Context, name string) (engine.Engine, error) {
		return eng, nil
	})

	store, err := session.Open(filepath.Join(root, "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	orch := runtime.New(reg, cache, store)
	return NewServer(orch, reg, cache, "test")
}

func TestHealthAndRoot(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"healthy"`)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"models":1`)
}

func TestListAndGetModel(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"tiny"`)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models/tiny", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models/ghost", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoadAndUnloadModel(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/models/tiny/unload", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/models/tiny/load", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/models/tiny/unload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestChatNonStreaming(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"model":"tiny","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		SessionID string `json:"session_id"`
		Usage     struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "assistant", resp.Message.Role)
	require.Equal(t, "hi there", resp.Message.Content)
	require.NotEmpty(t, resp.SessionID)
}

func TestChatStreaming(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"model":"tiny","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	require.Contains(t, rec.Body.String(), `"done":true`)
}

func TestEmbeddings(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"model":"tiny","input":"hello"}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/embeddings", body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"embedding"`)
}

func TestChatUnknownModelReturnsNotFound(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"model":"ghost","messages":[{"role":"user","content":"hi"}]}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", body))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
