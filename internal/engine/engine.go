// Package engine defines the Inference Engine Adapter contract (C4): a
// thin, swappable boundary around a native GGUF-style inference
// library. internal/engine/llamacpp provides the cgo-backed
// implementation; callers outside this package only ever see the
// Engine interface.
package engine

import "context"

// Params configures a single generate call.
type Params struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	Stop          []string
	Stream        bool
}

// UsageRecord is the token accounting for the most recently completed
// inference on an Engine. Both counts come from re-tokenizing text
// (the prompt before generation, the raw accumulated completion after)
// rather than from any source-reported count, per SPEC_FULL.md's
// resolution of the usage-accounting question.
type UsageRecord struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Fragment is one piece of streamed generation output. On failure Err
// is set and Text is empty; a generate loop must stop reading after
// the first Fragment with Err != nil.
type Fragment struct {
	Text string
	Err  error
}

// Engine wraps one loaded native model. Implementations MUST serialize
// Generate and Embed against each other and against themselves: at
// most one inference runs on a given Engine at a time, per spec §4.4.
// Load is expected to be expensive (seconds) and is not part of this
// interface; each implementation package exposes its own Load
// constructor returning an Engine.
type Engine interface {
	// Generate streams prompt completion fragments on the returned
	// channel. The channel is closed after the final fragment or the
	// first error. Canceling ctx stops generation at the next token
	// boundary and discards the partial turn; the channel is closed
	// without a trailing Fragment.
	Generate(ctx context.Context, prompt string, params Params) (<-chan Fragment, error)

	// Embed returns the model's native embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Tokenize and Detokenize support accounting and context budgeting;
	// they do not require an active generation.
	Tokenize(text string) ([]int32, error)
	Detokenize(tokens []int32) (string, error)

	// LastUsage reports the UsageRecord for the most recently completed
	// Generate call. Its zero value means no generation has completed
	// yet.
	LastUsage() UsageRecord

	// Close releases the native weights. Generate/Embed calls in
	// flight are not interrupted; Close should be called only once the
	// caller holds no outstanding reference to this Engine.
	Close() error
}

// Loader loads a native model from path into a ready Engine, applying
// ctxSize, gpuLayers and threads. threads <= 0 means "let the
// implementation choose", mirroring the reference runtime's
// hardware-suggested default.
type Loader func(path string, ctxSize, gpuLayers, threads int) (Engine, error)
