// Package budget implements the Context Budgeter (C8): truncating a
// session's history plus a new turn to fit a token budget while always
// preserving system messages and the last message.
package budget

import (
	"github.com/rs/zerolog/log"

	"github.com/localforge/myllm/internal/prompt"
)

// baseOverheadPerMessage is the fallback per-message token overhead for
// a template family with no entry in templateOverhead, mirroring the
// reference tokenizer's default.
const baseOverheadPerMessage = 5

// templateOverhead estimates the wrapper tokens (role markers, special
// tokens) a template adds per message. Applied uniformly to both system
// and conversation messages, not just system ones.
var templateOverhead = map[string]int{
	"llama3":  12,
	"llama":   7,
	"mistral": 7,
	"qwen":    7,
	"phi":     5,
}

func overheadFor(template string) int {
	if o, ok := templateOverhead[template]; ok {
		return o
	}
	return baseOverheadPerMessage
}

// CountTokens approximates a token count from raw text length: roughly
// 4 characters per token plus a small fixed overhead for special
// tokens. This avoids loading a model just to count tokens; the actual
// count used for UsageRecord always comes from the engine's own
// tokenizer instead.
func CountTokens(text string) int {
	n := len(text)/4 + 3
	if n < 1 {
		n = 1
	}
	return n
}

// CountMessagesTokens estimates the total prompt size messages would
// occupy once composed under template, including the trailing
// assistant-prefix overhead.
func CountMessagesTokens(messages []prompt.Message, template string) int {
	overhead := overheadFor(template)
	total := 0
	for _, m := range messages {
		total += CountTokens(m.Content) + overhead
	}
	return total + overhead
}

// Trim truncates messages to fit within maxTokens for template: all
// system messages are kept first, the last message is always kept, and
// the remaining messages are walked backwards from most to least
// recent, admitted until the first one that would not fit; the walk
// stops there rather than skipping over it. Admitted messages keep
// their original relative order.
func Trim(messages []prompt.Message, maxTokens int, template string) []prompt.Message {
	if len(messages) == 0 {
		return nil
	}
	overhead := overheadFor(template)

	var system, conversation []prompt.Message
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m)
		} else {
			conversation = append(conversation, m)
		}
	}

	systemTokens := 0
	for _, m := range system {
		systemTokens += CountTokens(m.Content) + overhead
	}

	available := maxTokens - systemTokens
	if available <= 0 {
		log.Warn().Int("max_tokens", maxTokens).Msg("system messages exceed token budget")
		if len(conversation) == 0 {
			return system
		}
		out := make([]prompt.Message, 0, len(system)+1)
		out = append(out, system...)
		return append(out, conversation[len(conversation)-1])
	}

	if len(conversation) == 0 {
		return system
	}

	last := conversation[len(conversation)-1]
	lastTokens := CountTokens(last.Content) + overhead
	if lastTokens > available {
		log.Warn().Msg("last message exceeds available token budget")
		out := make([]prompt.Message, 0, len(system)+1)
		out = append(out, system...)
		return append(out, last)
	}

	trimmed := []prompt.Message{last}
	current := lastTokens
	rest := conversation[:len(conversation)-1]
	for i := len(rest) - 1; i >= 0; i-- {
		tokens := CountTokens(rest[i].Content) + overhead
		if current+tokens > available {
			break
		}
		trimmed = append([]prompt.Message{rest[i]}, trimmed...)
		current += tokens
	}

	out := make([]prompt.Message, 0, len(system)+len(trimmed))
	out = append(out, system...)
	out = append(out, trimmed...)
	return out
}
