// Package runtime implements the Runtime Orchestrator (C9): the
// end-to-end chat/generate/embed flows that compose every other
// component, SSE framing, and turn persistence.
package runtime

import (
	"context"
	"strings"

	"github.com/localforge/myllm/internal/apierr"
	"github.com/localforge/myllm/internal/budget"
	"github.com/localforge/myllm/internal/engine"
	"github.com/localforge/myllm/internal/modelregistry"
	"github.com/localforge/myllm/internal/prompt"
	"github.com/localforge/myllm/internal/sanitize"
	"github.com/localforge/myllm/internal/session"
	"github.com/localforge/myllm/internal/sse"
)

// Registry is the subset of modelregistry.Registry the orchestrator
// needs: resolving a model name to its config.
type Registry interface {
	GetConfig(name string) (modelregistry.ModelConfig, error)
}

// Cache is the subset of modelcache.Cache the orchestrator needs:
// reference-counted get-or-load.
type Cache interface {
	GetOrLoad(ctx context.Context, name string) (engine.Engine, error)
	Release(name string)
}

// generationSafetyBuffer reserves headroom beyond max_tokens when
// budgeting the prompt, matching the reference runtime's 100-token
// buffer between prompt budget and context_size.
const generationSafetyBuffer = 100

// ChatFrame is one SSE event in a chat/generate stream. Exactly one
// frame per response has Done set, carrying Usage.
type ChatFrame struct {
	Delta     string              `json:"delta,omitempty"`
	Done      bool                `json:"done"`
	SessionID string              `json:"session_id,omitempty"`
	Usage     *engine.UsageRecord `json:"usage,omitempty"`
}

// ChatRequest is a multi-turn request against a session. An empty
// SessionID creates a new session.
type ChatRequest struct {
	ModelName string
	SessionID string
	Messages  []prompt.Message
	Params    engine.Params
}

// GenerateRequest is a single-shot request: the prompt is used exactly
// as given, with no template formatting and no session history, per
// spec §4.3's chat/generate distinction.
type GenerateRequest struct {
	ModelName string
	Prompt    string
	Params    engine.Params
}

// Orchestrator composes the Model Registry, Model Cache, Session
// Store, Context Budgeter, Template Registry, Prompt Composer and
// Output Sanitizer. Control flow mirrors spec §2's component diagram:
// HTTP -> C9 -> C5 (resolve) -> C6 (get-or-load) -> C7+C8 (assemble) ->
// C1+C2 (prompt) -> C4 (stream tokens) -> C3 (sanitize) -> C9 (frame
// SSE, accumulate) -> C7 (persist turn, emit terminal usage event).
type Orchestrator struct {
	registry Registry
	cache    Cache
	store    session.Store
}

// New builds an Orchestrator from its dependencies.
func New(registry Registry, cache Cache, store session.Store) *Orchestrator {
	return &Orchestrator{registry: registry, cache: cache, store: store}
}

// Chat executes one chat turn end to end and writes sanitized output
// frames to w, followed by exactly one terminal frame carrying usage,
// after the turn has been durably persisted.
func (o *Orchestrator) Chat(ctx context.Context, w *sse.Writer, req ChatRequest) error {
	cfg, err := o.registry.GetConfig(req.ModelName)
	if err != nil {
		return err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID, err = o.store.Create(ctx, req.ModelName)
		if err != nil {
			return err
		}
	} else if _, err := o.store.GetWithMessages(ctx, sessionID); err != nil {
		return err
	}

	tmpl, err := prompt.Lookup(cfg.Family)
	if err != nil {
		return err
	}

	existing, err := o.store.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	history := make([]prompt.Message, 0, len(existing)+len(req.Messages))
	for _, m := range existing {
		history = append(history, prompt.Message{Role: m.Role, Content: m.Content})
	}
	history = append(history, req.Messages...)

	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	promptBudget := cfg.ContextSize - maxTokens - generationSafetyBuffer
	trimmed := budget.Trim(history, promptBudget, cfg.Family)
	if len(trimmed) == 0 {
		return apierr.ContextExceeded(budget.CountMessagesTokens(history, cfg.Family), cfg.ContextSize)
	}

	builtPrompt, err := prompt.Build(tmpl, trimmed)
	if err != nil {
		return err
	}

	params := req.Params
	params.Stop = tmpl.StopTokens

	eng, err := o.cache.GetOrLoad(ctx, req.ModelName)
	if err != nil {
		return err
	}
	defer o.cache.Release(req.ModelName)

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fragments, err := eng.Generate(genCtx, builtPrompt, params)
	if err != nil {
		return err
	}

	sanitizer := sanitize.New(tmpl.StopTokens)
	var assistantText strings.Builder
	for frag := range fragments {
		if frag.Err != nil {
			return frag.Err
		}
		cleaned, stop, ok := sanitizer.SanitizeToken(frag.Text)
		if stop {
			cancel()
			break
		}
		if !ok {
			continue
		}
		assistantText.WriteString(cleaned)
		if err := w.Send(ChatFrame{Delta: cleaned, SessionID: sessionID}); err != nil {
			return err
		}
	}

	usage := eng.LastUsage()

	for _, m := range req.Messages {
		if _, err := o.store.AddMessage(ctx, sessionID, m.Role, m.Content, nil); err != nil {
			return err
		}
	}
	completionTokens := usage.CompletionTokens
	if _, err := o.store.AddMessage(ctx, sessionID, "assistant", assistantText.String(), &completionTokens); err != nil {
		return err
	}

	return w.Send(ChatFrame{Done: true, SessionID: sessionID, Usage: &usage})
}

// Generate executes a single-shot completion with no session and no
// prompt templating: req.Prompt is sent to the engine exactly as
// given, giving callers full control over prompt formatting.
func (o *Orchestrator) Generate(ctx context.Context, w *sse.Writer, req GenerateRequest) error {
	cfg, err := o.registry.GetConfig(req.ModelName)
	if err != nil {
		return err
	}
	tmpl, err := prompt.Lookup(cfg.Family)
	if err != nil {
		return err
	}

	params := req.Params
	if len(params.Stop) == 0 {
		params.Stop = tmpl.StopTokens
	}

	eng, err := o.cache.GetOrLoad(ctx, req.ModelName)
	if err != nil {
		return err
	}
	defer o.cache.Release(req.ModelName)

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fragments, err := eng.Generate(genCtx, req.Prompt, params)
	if err != nil {
		return err
	}

	sanitizer := sanitize.New(tmpl.StopTokens)
	for frag := range fragments {
		if frag.Err != nil {
			return frag.Err
		}
		cleaned, stop, ok := sanitizer.SanitizeToken(frag.Text)
		if stop {
			cancel()
			break
		}
		if !ok {
			continue
		}
		if err := w.Send(ChatFrame{Delta: cleaned}); err != nil {
			return err
		}
	}

	usage := eng.LastUsage()
	return w.Send(ChatFrame{Done: true, Usage: &usage})
}

// Embed resolves modelName and returns its engine's native embedding
// for text.
func (o *Orchestrator) Embed(ctx context.Context, modelName, text string) ([]float32, error) {
	if _, err := o.registry.GetConfig(modelName); err != nil {
		return nil, err
	}
	eng, err := o.cache.GetOrLoad(ctx, modelName)
	if err != nil {
		return nil, err
	}
	defer o.cache.Release(modelName)
	return eng.Embed(ctx, text)
}
