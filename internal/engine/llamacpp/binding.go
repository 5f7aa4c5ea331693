// Package llamacpp is the cgo-backed implementation of engine.Engine,
// wrapping llama.cpp's C API directly rather than shelling out to a
// server process. Build-tag style and the eval/sample C helpers are
// grounded on a community llama.cpp Go binding's cgo conventions;
// usage-accounting semantics (tokenize prompt before generation,
// tokenize the raw accumulated completion after) are grounded on the
// reference runtime's llama.cpp wrapper.
package llamacpp

/*
#cgo CFLAGS: -Ofast -std=c11 -fPIC
#cgo CPPFLAGS: -Ofast -Wall -Wextra -Wno-unused-function -Wno-unused-variable -DNDEBUG
#cgo CXXFLAGS: -std=c++11 -fPIC
#cgo darwin CPPFLAGS: -DGGML_USE_ACCELERATE
#cgo darwin,arm64 CPPFLAGS: -DGGML_USE_METAL -DGGML_METAL_NDEBUG
#cgo darwin LDFLAGS: -framework Accelerate -framework Foundation -framework Metal -framework MetalKit -framework MetalPerformanceShaders

#include <stdlib.h>
#include "llama.h"

struct llm_go_params {
	float repeat_penalty;
	float temperature;
	int32_t top_k;
	float top_p;
};

static int llm_go_eval(struct llama_context *ctx, int pos, llama_token *tokens, int n_tokens) {
	if (n_tokens < 1) return 0;
	struct llama_batch batch = llama_batch_init(n_tokens, 0, 1);
	batch.n_tokens = n_tokens;
	for (int i = 0; i < n_tokens; i++) {
		batch.token[i] = tokens[i];
		batch.pos[i] = pos + i;
		batch.seq_id[i][0] = 0;
		batch.n_seq_id[i] = 1;
	}
	batch.logits[n_tokens - 1] = true;
	int e = llama_decode(ctx, batch);
	llama_batch_free(batch);
	return e;
}

static llama_token llm_go_sample(
	struct llama_context *ctx,
	struct llm_go_params *params,
	int pos,
	llama_token *last_tokens, int n_last_tokens
) {
	float *logits = llama_get_logits_ith(ctx, pos);
	if (logits == NULL) {
		return 0;
	}
	const struct llama_model *model = llama_get_model(ctx);
	int n_vocab = llama_n_vocab(model);

	llama_token_data *data = malloc(sizeof(llama_token_data) * n_vocab);
	if (data == NULL) {
		return 0;
	}
	for (int i = 0; i < n_vocab; i++) {
		data[i].id = i;
		data[i].logit = logits[i];
		data[i].p = 0;
	}
	llama_token_data_array candidates = {data, (size_t)n_vocab, false};

	if (n_last_tokens > 0 && params->repeat_penalty != 1.0f) {
		llama_sample_repetition_penalties(ctx, &candidates, last_tokens, n_last_tokens, params->repeat_penalty, 0.0f, 0.0f);
	}

	llama_token token;
	if (params->temperature <= 0) {
		token = llama_sample_token_greedy(ctx, &candidates);
	} else {
		llama_sample_top_k(ctx, &candidates, params->top_k, 1);
		llama_sample_top_p(ctx, &candidates, params->top_p, 1);
		llama_sample_temp(ctx, &candidates, params->temperature);
		token = llama_sample_token(ctx, &candidates);
	}
	free(data);
	return token;
}

static void llm_go_mute_log_handler(enum ggml_log_level level, const char *text, void *user) {
	(void)(user);
	if (level <= GGML_LOG_LEVEL_INFO) return;
	fputs(text, stderr);
}

static void llm_go_mute(void) {
	llama_log_set(llm_go_mute_log_handler, NULL);
}
*/
import "C"

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/rs/zerolog/log"

	"github.com/localforge/myllm/internal/apierr"
	"github.com/localforge/myllm/internal/engine"
)

func init() {
	C.llm_go_mute()
}

// model wraps a loaded set of weights and the one context this adapter
// keeps open for it. Only one Generate or Embed call runs at a time on
// a model; mu enforces that per spec §4.4.
type model struct {
	mu sync.Mutex

	path   string
	llama  *C.struct_llama_model
	ctx    *C.struct_llama_context
	bosTok C.llama_token
	eosTok C.llama_token

	ctxSize int
	usage   engine.UsageRecord
}

// Load loads a GGUF model from path. threads <= 0 lets llama.cpp choose
// its own default thread count.
func Load(path string, ctxSize, gpuLayers, threads int) (engine.Engine, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	mp := C.llama_model_default_params()
	mp.n_gpu_layers = C.int32_t(gpuLayers)

	llama := C.llama_load_model_from_file(cPath, mp)
	if llama == nil {
		return nil, apierr.ModelLoadFailed(path, fmt.Errorf("llama_load_model_from_file returned nil"))
	}

	cp := C.llama_context_default_params()
	cp.n_ctx = C.uint32_t(ctxSize)
	cp.n_batch = cp.n_ctx
	if threads > 0 {
		cp.n_threads = C.int32_t(threads)
		cp.n_threads_batch = C.int32_t(threads)
	}

	ctx := C.llama_new_context_with_model(llama, cp)
	if ctx == nil {
		C.llama_free_model(llama)
		return nil, apierr.ModelLoadFailed(path, fmt.Errorf("llama_new_context_with_model returned nil"))
	}

	m := &model{
		path:    path,
		llama:   llama,
		ctx:     ctx,
		bosTok:  C.llama_token_bos(llama),
		eosTok:  C.llama_token_eos(llama),
		ctxSize: ctxSize,
	}
	log.Info().Str("model", path).Int("ctx_size", ctxSize).Int("gpu_layers", gpuLayers).Msg("model loaded")
	return m, nil
}

func (m *model) Tokenize(text string) ([]int32, error) {
	if m.llama == nil {
		return nil, apierr.Inference("model closed", m.path, nil)
	}
	buf := make([]C.llama_token, len(text)+8)
	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))
	n := C.llama_tokenize(m.llama, cText, C.int32_t(len(text)), &buf[0], C.int32_t(len(buf)), false, false)
	if n < 0 {
		return nil, apierr.Inference("tokenize failed", m.path, nil)
	}
	out := make([]int32, n)
	for i := 0; i < int(n); i++ {
		out[i] = int32(buf[i])
	}
	return out, nil
}

func (m *model) Detokenize(tokens []int32) (string, error) {
	if m.llama == nil {
		return "", apierr.Inference("model closed", m.path, nil)
	}
	var b strings.Builder
	var tmp [512]byte
	for _, t := range tokens {
		n := C.llama_token_to_piece(m.llama, C.llama_token(t), (*C.char)(unsafe.Pointer(&tmp[0])), C.int32_t(len(tmp)))
		if n < 0 {
			return "", apierr.Inference("detokenize failed", m.path, nil)
		}
		b.Write(tmp[:n])
	}
	return b.String(), nil
}

func (m *model) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokens, err := m.Tokenize(text)
	if err != nil {
		return nil, err
	}
	if err := m.evalFresh(tokens); err != nil {
		return nil, err
	}
	n := int(C.llama_n_embd(m.llama))
	raw := C.llama_get_embeddings(m.ctx)
	if raw == nil {
		return nil, apierr.Inference("model does not support embeddings", m.path, nil)
	}
	out := make([]float32, n)
	slice := unsafe.Slice((*C.float)(raw), n)
	for i := 0; i < n; i++ {
		out[i] = float32(slice[i])
	}
	return out, nil
}

// evalFresh resets the KV cache and decodes tokens from position 0,
// used for one-shot embedding calls that don't need incremental reuse.
func (m *model) evalFresh(tokens []int32) error {
	C.llama_kv_cache_seq_rm(m.ctx, 0, 0, -1)
	cTokens := make([]C.llama_token, len(tokens))
	for i, t := range tokens {
		cTokens[i] = C.llama_token(t)
	}
	if len(cTokens) == 0 {
		return apierr.InvalidInput("empty input has no tokens to evaluate", "text")
	}
	e := C.llm_go_eval(m.ctx, 0, &cTokens[0], C.int(len(cTokens)))
	if e != 0 {
		return apierr.Inference("llama_decode failed", m.path, nil)
	}
	return nil
}

// Generate implements engine.Engine. It tokenizes prompt up front for
// the prompt-token count, decodes the prompt, then samples one token
// at a time, re-tokenizing the raw accumulated completion at the end
// to populate LastUsage, never a sampler-reported count. The sampling
// loop ends on native EOS, on the accumulated completion matching any
// of params.Stop, on maxTokens, or on context cancellation — the last
// of which the caller drives by canceling ctx as soon as it stops
// reading fragments, since the channel send blocks until then.
func (m *model) Generate(ctx context.Context, prompt string, params engine.Params) (<-chan engine.Fragment, error) {
	m.mu.Lock()

	promptTokens, err := m.Tokenize(prompt)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	maxInput := m.ctxSize - 8
	if len(promptTokens) > maxInput {
		m.mu.Unlock()
		return nil, apierr.ContextExceeded(len(promptTokens), maxInput)
	}

	C.llama_kv_cache_seq_rm(m.ctx, 0, 0, -1)
	cTokens := make([]C.llama_token, len(promptTokens))
	for i, t := range promptTokens {
		cTokens[i] = C.llama_token(t)
	}
	if len(cTokens) > 0 {
		if e := C.llm_go_eval(m.ctx, 0, &cTokens[0], C.int(len(cTokens))); e != 0 {
			m.mu.Unlock()
			return nil, apierr.Inference("prompt evaluation failed", m.path, nil)
		}
	}

	out := make(chan engine.Fragment)
	sampleParams := C.struct_llm_go_params{
		repeat_penalty: C.float(params.RepeatPenalty),
		temperature:    C.float(params.Temperature),
		top_k:          C.int32_t(params.TopK),
		top_p:          C.float(params.TopP),
	}

	go func() {
		defer close(out)
		defer m.mu.Unlock()

		history := append([]C.llama_token(nil), cTokens...)
		var accumulated strings.Builder
		maxTokens := params.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 512
		}

		for i := 0; i < maxTokens; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}

			pos := len(history) - 1
			last := history
			if len(last) > 64 {
				last = last[len(last)-64:]
			}
			tok := C.llm_go_sample(m.ctx, &sampleParams, C.int(pos), &last[0], C.int(len(last)))
			if tok == m.eosTok {
				break
			}

			piece, err := m.Detokenize([]int32{int32(tok)})
			if err != nil {
				out <- engine.Fragment{Err: err}
				return
			}
			accumulated.WriteString(piece)

			history = append(history, tok)
			if e := C.llm_go_eval(m.ctx, C.int(len(history)-1), &tok, 1); e != 0 {
				out <- engine.Fragment{Err: apierr.Inference("token evaluation failed", m.path, nil)}
				return
			}

			select {
			case out <- engine.Fragment{Text: piece}:
			case <-ctx.Done():
				return
			}

			if containsStop(accumulated.String(), params.Stop) {
				break
			}

			if len(history) >= m.ctxSize-1 {
				break
			}
		}

		completionTokens, err := m.Tokenize(accumulated.String())
		if err != nil {
			return
		}
		m.usage = engine.UsageRecord{
			PromptTokens:     len(promptTokens),
			CompletionTokens: len(completionTokens),
			TotalTokens:      len(promptTokens) + len(completionTokens),
		}
	}()

	return out, nil
}

// containsStop reports whether text already contains any of stops,
// letting the sampling loop terminate at the source for families whose
// configured stop marker (e.g. llama's "[INST]", phi's "###") is never
// the model's literal EOS token.
func containsStop(text string, stops []string) bool {
	for _, s := range stops {
		if s != "" && strings.Contains(text, s) {
			return true
		}
	}
	return false
}

func (m *model) LastUsage() engine.UsageRecord {
	return m.usage
}

func (m *model) Close() error {
	if m.ctx != nil {
		C.llama_free(m.ctx)
		m.ctx = nil
	}
	if m.llama != nil {
		C.llama_free_model(m.llama)
		m.llama = nil
	}
	return nil
}
