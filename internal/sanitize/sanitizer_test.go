package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario 4 from spec §8: a token stream straddling a stop sequence
// across token boundaries must stop before emitting anything past it.
func TestStopTokenStraddlesBoundary(t *testing.T) {
	s := New([]string{"</s>"})

	tokens := []string{"Hel", "lo", " ", "</", "s>", " ignored"}
	var out string
	for _, tok := range tokens {
		cleaned, stop, ok := s.SanitizeToken(tok)
		if stop {
			break
		}
		if ok {
			out += cleaned
		}
	}
	require.Equal(t, "Hello ", out)
}

func TestSanitizeIdempotent(t *testing.T) {
	s := New([]string{"</s>"})
	raw := "<|im_start|>assistant\nHello world\n\n\n\nBye<|im_end|>"
	once := s.Sanitize(raw)
	twice := s.Sanitize(once)
	require.Equal(t, once, twice)
}

func TestSanitizeCollapsesNewlines(t *testing.T) {
	s := New(nil)
	out := s.Sanitize("a\n\n\n\n\nb")
	require.Equal(t, "a\n\nb", out)
}

func TestSanitizeStripsRoleMarkers(t *testing.T) {
	s := New([]string{"<|eot_id|>"})
	out := s.Sanitize("<|start_header_id|>assistant<|end_header_id|>\n\nhi there<|eot_id|>")
	require.Equal(t, "hi there", out)
}

func TestSanitizeStripsLeadingStandaloneRoleWord(t *testing.T) {
	s := New(nil)
	out := s.Sanitize("assistant: hello there")
	require.Equal(t, "hello there", out)
}

func TestSanitizeTokenSuppressesPureControlToken(t *testing.T) {
	s := New([]string{"zzz-never-matches"})
	_, stop, ok := s.SanitizeToken("[INST]")
	require.False(t, stop)
	require.False(t, ok)
}

func TestSanitizeTokenEmitsPlainText(t *testing.T) {
	s := New([]string{"zzz-never-matches"})
	cleaned, stop, ok := s.SanitizeToken("hello")
	require.False(t, stop)
	require.True(t, ok)
	require.Equal(t, "hello", cleaned)
}

func TestResetClearsBuffer(t *testing.T) {
	s := New([]string{"</s>"})
	s.SanitizeToken("</")
	s.Reset()
	_, stop, _ := s.SanitizeToken("s>")
	require.False(t, stop)
}
