package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/localforge/myllm/internal/apierr"
	"github.com/localforge/myllm/internal/engine"
	"github.com/localforge/myllm/internal/prompt"
	"github.com/localforge/myllm/internal/runtime"
	"github.com/localforge/myllm/internal/sse"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"name":    "myllm",
		"version": s.version,
		"models":  len(s.registry.List()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// messageBody is the wire shape of one chat message.
type messageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// optionsBody is the wire shape of generation options, matching spec §6's
// chat/generate request bodies.
type optionsBody struct {
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	TopK             int      `json:"top_k"`
	MaxTokens        int      `json:"max_tokens"`
	Stop             []string `json:"stop"`
	RepeatPenalty    float64  `json:"repeat_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
}

func (o *optionsBody) toParams() engine.Params {
	if o == nil {
		return engine.Params{}
	}
	return engine.Params{
		MaxTokens:     o.MaxTokens,
		Temperature:   o.Temperature,
		TopP:          o.TopP,
		TopK:          o.TopK,
		RepeatPenalty: o.RepeatPenalty,
		Stop:          o.Stop,
	}
}

type chatRequestBody struct {
	Model     string        `json:"model"`
	Messages  []messageBody `json:"messages"`
	SessionID string        `json:"session_id"`
	Stream    bool          `json:"stream"`
	Options   *optionsBody  `json:"options"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if body.Model == "" {
		respondError(w, http.StatusBadRequest, apierr.InvalidInput("model is required", "model"))
		return
	}

	messages := make([]prompt.Message, len(body.Messages))
	for i, m := range body.Messages {
		messages[i] = prompt.Message{Role: m.Role, Content: m.Content}
	}
	req := runtime.ChatRequest{
		ModelName: body.Model,
		SessionID: body.SessionID,
		Messages:  messages,
		Params:    body.Options.toParams(),
	}

	if body.Stream {
		writer := sse.New(w)
		if err := s.orch.Chat(r.Context(), writer, req); err != nil {
			_ = writer.Send(runtime.ChatFrame{Done: true})
		}
		return
	}

	rec := httptest.NewRecorder()
	if err := s.orch.Chat(r.Context(), sse.New(rec), req); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	text, sessionID, usage := collectChatFrames(rec.Body.String())
	respondJSON(w, http.StatusOK, map[string]any{
		"message":    messageBody{Role: "assistant", Content: text},
		"session_id": sessionID,
		"usage":      usage,
	})
}

type generateRequestBody struct {
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	Stream  bool         `json:"stream"`
	Options *optionsBody `json:"options"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if body.Model == "" {
		respondError(w, http.StatusBadRequest, apierr.InvalidInput("model is required", "model"))
		return
	}

	req := runtime.GenerateRequest{
		ModelName: body.Model,
		Prompt:    body.Prompt,
		Params:    body.Options.toParams(),
	}

	if body.Stream {
		writer := sse.New(w)
		if err := s.orch.Generate(r.Context(), writer, req); err != nil {
			_ = writer.Send(runtime.ChatFrame{Done: true})
		}
		return
	}

	rec := httptest.NewRecorder()
	if err := s.orch.Generate(r.Context(), sse.New(rec), req); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	text, _, usage := collectChatFrames(rec.Body.String())
	respondJSON(w, http.StatusOK, map[string]any{"text": text, "usage": usage})
}

type embeddingsRequestBody struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var body embeddingsRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if body.Model == "" {
		respondError(w, http.StatusBadRequest, apierr.InvalidInput("model is required", "model"))
		return
	}
	vec, err := s.orch.Embed(r.Context(), body.Model, body.Input)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"embedding": vec, "model": body.Model})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.registry.List()
	for i := range models {
		models[i].Loaded = s.cache.IsLoaded(models[i].Name)
	}
	respondJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cfg, err := s.registry.GetConfig(name)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	path, _ := s.registry.GetPath(name)
	respondJSON(w, http.StatusOK, map[string]any{
		"name":         cfg.Name,
		"family":       cfg.Family,
		"quantization": cfg.Quantization,
		"context_size": cfg.ContextSize,
		"template":     cfg.Template,
		"parameters":   cfg.Parameters,
		"path":         path,
		"loaded":       s.cache.IsLoaded(name),
	})
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.registry.GetConfig(name); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	if err := s.cache.Preload(r.Context(), name); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "model '" + name + "' loaded",
	})
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.cache.IsLoaded(name) {
		respondError(w, http.StatusBadRequest, apierr.New(apierr.KindInvalidInput, "model '"+name+"' is not loaded"))
		return
	}
	if err := s.cache.Unload(name); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "model '" + name + "' unloaded",
	})
}

// collectChatFrames drains a buffered SSE body produced against an
// in-memory recorder, reassembling the deltas and terminal usage into a
// single non-streaming response. Used when a client asks for stream:false
// but the orchestrator only speaks in SSE frames.
func collectChatFrames(body string) (text, sessionID string, usage *engine.UsageRecord) {
	var b strings.Builder
	for _, raw := range strings.Split(strings.TrimSpace(body), "\n\n") {
		raw = strings.TrimPrefix(raw, "data: ")
		if raw == "" {
			continue
		}
		var frame runtime.ChatFrame
		if err := json.Unmarshal([]byte(raw), &frame); err != nil {
			continue
		}
		b.WriteString(frame.Delta)
		if frame.SessionID != "" {
			sessionID = frame.SessionID
		}
		if frame.Done && frame.Usage != nil {
			usage = frame.Usage
		}
	}
	return b.String(), sessionID, usage
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

func statusFromError(err error) int {
	if e, ok := apierr.As(err); ok {
		return e.StatusCode()
	}
	return http.StatusInternalServerError
}
