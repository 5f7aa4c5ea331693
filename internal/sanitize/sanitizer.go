// Package sanitize implements the Output Sanitizer (C3): stripping
// control/role markers from streamed or whole-text model output and
// detecting stop sequences that may straddle token boundaries.
package sanitize

import (
	"regexp"
	"strings"
)

const bufferWindow = 20

// stripPattern pairs a compiled regex with its replacement, in the
// order they must be applied: most specific first, matching the
// reference sanitizer's ordering.
type stripPattern struct {
	re          *regexp.Regexp
	replacement string
}

// duplicateRoleWord matches "assistant assistant", "user user", etc.
// Go's RE2 engine has no backreference support, so this is handled as
// its own step rather than folded into the generic stripPatterns list.
var duplicateRoleWord = regexp.MustCompile(`(?i)\b(assistant|user|system)(\s+)(assistant|user|system)\b`)

func collapseDuplicateRoleWord(s string) string {
	return duplicateRoleWord.ReplaceAllStringFunc(s, func(m string) string {
		parts := duplicateRoleWord.FindStringSubmatch(m)
		if len(parts) < 4 || !strings.EqualFold(parts[1], parts[3]) {
			return m
		}
		return parts[1]
	})
}

var staticPatterns = []stripPattern{
	{regexp.MustCompile(`(?i)<\|im_start\|>\s*(user|assistant|system)\s*`), ""},
	{regexp.MustCompile(`(?i)<\|im_end\|>`), ""},
	{regexp.MustCompile(`(?i)\[INST\]`), ""},
	{regexp.MustCompile(`(?i)\[/INST\]`), ""},
	{regexp.MustCompile(`(?i)<<SYS>>`), ""},
	{regexp.MustCompile(`(?i)<</SYS>>`), ""},
	{regexp.MustCompile(`(?i)<s>`), ""},
	{regexp.MustCompile(`(?i)</s>`), ""},
	{regexp.MustCompile(`(?i)<\|begin_of_text\|>`), ""},
	{regexp.MustCompile(`(?i)<\|end_of_text\|>`), ""},
	{regexp.MustCompile(`(?i)<\|start_header_id\|>\s*(user|assistant|system)\s*<\|end_header_id\|>`), ""},
	{regexp.MustCompile(`(?i)<\|eot_id\|>`), ""},
	{regexp.MustCompile(`(?i)###\s*(Instruction|Response|System):\s*`), ""},
	{regexp.MustCompile(`(?i)^\s*(assistant|user|system)\s*:?\s*`), ""},
}

var collapseNewlines = regexp.MustCompile(`\n\n\n+`)

// Sanitizer strips control/role markers from model output and detects
// stop sequences in a streaming token sequence via a rolling tail
// buffer, since a stop sequence may straddle token boundaries.
type Sanitizer struct {
	stopTokens []string
	patterns   []stripPattern
	buffer     []string
}

// New builds a Sanitizer whose strip patterns are specific to
// stopTokens (the active template's stop-token set) followed by the
// fixed control-token patterns shared by every family.
func New(stopTokens []string) *Sanitizer {
	patterns := make([]stripPattern, 0, len(stopTokens)+len(staticPatterns))
	for _, tok := range stopTokens {
		patterns = append(patterns, stripPattern{
			re:          regexp.MustCompile(`(?i)` + regexp.QuoteMeta(tok)),
			replacement: "",
		})
	}
	patterns = append(patterns, staticPatterns...)
	return &Sanitizer{stopTokens: stopTokens, patterns: patterns}
}

// Sanitize cleans a complete text in whole-text mode: applies every
// strip pattern and the duplicate-role-word collapse, then collapses
// runs of 3+ newlines to 2 and trims. Idempotent: Sanitize(Sanitize(x))
// == Sanitize(x).
func (s *Sanitizer) Sanitize(text string) string {
	for _, p := range s.patterns {
		text = p.re.ReplaceAllString(text, p.replacement)
	}
	text = collapseDuplicateRoleWord(text)
	text = collapseNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ShouldStop appends token to the rolling tail buffer and reports
// whether any stop token now appears in the buffer's concatenation.
// The buffer retains at most the last bufferWindow tokens, since stop
// sequences may straddle more than one token.
func (s *Sanitizer) ShouldStop(token string) bool {
	s.buffer = append(s.buffer, token)
	if len(s.buffer) > bufferWindow {
		s.buffer = s.buffer[len(s.buffer)-bufferWindow:]
	}
	combined := strings.Join(s.buffer, "")
	for _, stop := range s.stopTokens {
		if stop != "" && strings.Contains(combined, stop) {
			return true
		}
	}
	return false
}

// SanitizeToken classifies a single streamed token (streaming mode).
// It returns the cleaned fragment to emit, and ok=false when the token
// must be suppressed entirely: either because it completed a stop
// sequence (the caller must terminate generation at this point and not
// emit the returned value) or because stripping left nothing of a
// non-empty token.
func (s *Sanitizer) SanitizeToken(token string) (cleaned string, stop bool, ok bool) {
	if s.ShouldStop(token) {
		return "", true, false
	}

	for _, p := range s.patterns {
		if isFullMatch(p.re, token) {
			return "", false, false
		}
	}

	cleaned = token
	for _, p := range s.patterns {
		if p.re.MatchString(cleaned) {
			cleaned = p.re.ReplaceAllString(cleaned, p.replacement)
		}
	}

	if strings.TrimSpace(cleaned) == "" && strings.TrimSpace(token) != "" {
		return "", false, false
	}
	return cleaned, false, true
}

// isFullMatch reports whether re matches the entirety of s, mirroring
// Python's re.fullmatch semantics used by the reference sanitizer to
// detect tokens that are purely a control sequence.
func isFullMatch(re *regexp.Regexp, s string) bool {
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// Reset clears the rolling tail buffer for a new generation.
func (s *Sanitizer) Reset() {
	s.buffer = nil
}
