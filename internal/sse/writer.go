// Package sse provides Server-Sent Events framing for the streaming
// chat/generate endpoints, generalizing the JSON-RPC SSE writer style
// to arbitrary JSON payloads.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer wraps an http.ResponseWriter to emit "data: <json>\n\n" frames
// and flush after every write, so partial output reaches the client as
// soon as it's produced.
type Writer struct {
	w http.ResponseWriter
	f http.Flusher
}

// New prepares w's headers for event-stream output and returns a
// Writer. It panics if the underlying ResponseWriter cannot flush,
// mirroring the reference SSE writer's fail-fast contract: streaming
// support is assumed by every caller of this package.
func New(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		panic("streaming is not supported by the underlying http.ResponseWriter")
	}
	return &Writer{w: w, f: flusher}
}

// Send marshals payload and writes it as a single SSE data frame.
func (s *Writer) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	s.f.Flush()
	return nil
}
