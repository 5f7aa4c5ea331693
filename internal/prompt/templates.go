// Package prompt holds the per-family prompt template registry (C1) and
// the prompt composer (C2).
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/localforge/myllm/internal/apierr"
)

// Template is a process-wide immutable record of a model family's
// training-time prompt format. Fields mirror spec §3's PromptTemplate
// shape exactly.
type Template struct {
	Name            string
	SystemFormat    string
	UserFormat      string
	AssistantFormat string
	BOSToken        string
	EOSToken        string
	StopTokens      []string
}

// AssistantPrefix returns the portion of AssistantFormat that precedes
// the {content} placeholder, used to cue generation when the last
// message in a prompt isn't already an assistant turn.
func (t Template) AssistantPrefix() string {
	if idx := strings.Index(t.AssistantFormat, "{content}"); idx >= 0 {
		return t.AssistantFormat[:idx]
	}
	return t.AssistantFormat
}

// registry is the immutable family -> Template table. Every format
// string below matches the original model-family definitions exactly;
// this table is not an approximation.
var registry = map[string]Template{
	"llama": {
		Name:            "llama",
		SystemFormat:    "<<SYS>>\n{content}\n<</SYS>>\n\n",
		UserFormat:      "[INST] {content} [/INST]",
		AssistantFormat: "{content}</s>",
		BOSToken:        "<s>",
		EOSToken:        "</s>",
		StopTokens:      []string{"</s>", "[INST]"},
	},
	"llama3": {
		Name:            "llama3",
		SystemFormat:    "<|start_header_id|>system<|end_header_id|>\n\n{content}<|eot_id|>",
		UserFormat:      "<|start_header_id|>user<|end_header_id|>\n\n{content}<|eot_id|>",
		AssistantFormat: "<|start_header_id|>assistant<|end_header_id|>\n\n{content}<|eot_id|>",
		BOSToken:        "<|begin_of_text|>",
		EOSToken:        "<|eot_id|>",
		StopTokens:      []string{"<|eot_id|>"},
	},
	"mistral": {
		Name:            "mistral",
		SystemFormat:    "<<SYS>>\n{content}\n<</SYS>>\n\n",
		UserFormat:      "[INST] {content} [/INST]",
		AssistantFormat: "{content}</s>",
		BOSToken:        "<s>",
		EOSToken:        "</s>",
		StopTokens:      []string{"</s>"},
	},
	"phi": {
		Name:            "phi",
		SystemFormat:    "### System:\n{content}\n\n",
		UserFormat:      "### Instruction:\n{content}\n\n",
		AssistantFormat: "### Response:\n{content}\n\n",
		BOSToken:        "",
		EOSToken:        "",
		StopTokens:      []string{"###"},
	},
	"qwen": {
		Name:            "qwen",
		SystemFormat:    "<|im_start|>system\n{content}<|im_end|>\n",
		UserFormat:      "<|im_start|>user\n{content}<|im_end|>\n",
		AssistantFormat: "<|im_start|>assistant\n{content}<|im_end|>\n",
		BOSToken:        "",
		EOSToken:        "<|im_end|>",
		StopTokens:      []string{"<|im_end|>"},
	},
}

// Lookup returns the template for family. It fails loudly — no default,
// no guessing — when family is not a recognized member of the registry.
func Lookup(family string) (Template, error) {
	t, ok := registry[family]
	if !ok {
		names := make([]string, 0, len(registry))
		for name := range registry {
			names = append(names, name)
		}
		sort.Strings(names)
		return Template{}, apierr.Configuration(
			fmt.Sprintf("no template for family %q; available families: %s", family, strings.Join(names, ", ")),
		)
	}
	return t, nil
}

// Families returns the sorted list of known family identifiers.
func Families() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
