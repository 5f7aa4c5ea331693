// Package apierr defines the closed set of error kinds the runtime can
// surface, each mapped to an HTTP status code at the API boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure. Kinds are compared with errors.Is,
// never by string.
type Kind int

const (
	KindUnknown Kind = iota
	KindModelNotFound
	KindModelLoadFailed
	KindInference
	KindSessionNotFound
	KindContextExceeded
	KindInvalidInput
	KindConfiguration
	KindDownload
)

// Sentinel errors, one per Kind, for errors.Is comparisons.
var (
	ErrModelNotFound    = &Error{Kind: KindModelNotFound, Message: "model not found"}
	ErrModelLoadFailed  = &Error{Kind: KindModelLoadFailed, Message: "model load failed"}
	ErrInference        = &Error{Kind: KindInference, Message: "inference failed"}
	ErrSessionNotFound  = &Error{Kind: KindSessionNotFound, Message: "session not found"}
	ErrContextExceeded  = &Error{Kind: KindContextExceeded, Message: "context window exceeded"}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrConfiguration    = &Error{Kind: KindConfiguration, Message: "configuration error"}
	ErrDownload         = &Error{Kind: KindDownload, Message: "download error"}
)

// Error is the runtime's typed error. It carries a Kind for status-code
// mapping and optional structured Details for logging/diagnostics.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is supports errors.Is comparison by Kind alone, ignoring Message/Details/cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// StatusCode maps the error's Kind to an HTTP status code.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindModelNotFound, KindSessionNotFound:
		return http.StatusNotFound
	case KindInvalidInput, KindContextExceeded, KindConfiguration:
		return http.StatusBadRequest
	case KindModelLoadFailed, KindInference:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New builds an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around a lower-level cause, preserving it for
// errors.Unwrap/errors.As while reporting Message at the top level.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// ModelNotFound builds a model-not-found error for the given model name.
func ModelNotFound(name string) *Error {
	return New(KindModelNotFound, fmt.Sprintf("model %q not found", name)).
		WithDetails(map[string]any{"model": name})
}

// ModelLoadFailed builds a model-load-error for the given model and underlying cause.
func ModelLoadFailed(name string, cause error) *Error {
	return Wrap(KindModelLoadFailed, fmt.Sprintf("failed to load model %q", name), cause).
		WithDetails(map[string]any{"model": name})
}

// Inference builds an inference-error, optionally naming the model.
func Inference(message string, model string, cause error) *Error {
	e := Wrap(KindInference, message, cause)
	if model != "" {
		e.Details = map[string]any{"model": model}
	}
	return e
}

// SessionNotFound builds a session-not-found error for the given id.
func SessionNotFound(id string) *Error {
	return New(KindSessionNotFound, fmt.Sprintf("session %q not found", id)).
		WithDetails(map[string]any{"session_id": id})
}

// ContextExceeded builds a context-exceeded error reporting the available and required token counts.
func ContextExceeded(tokens, maxTokens int) *Error {
	return New(KindContextExceeded, fmt.Sprintf("prompt requires %d tokens, budget is %d", tokens, maxTokens)).
		WithDetails(map[string]any{"tokens": tokens, "max_tokens": maxTokens})
}

// InvalidInput builds an invalid-input error, optionally naming the offending field.
func InvalidInput(message string, field string) *Error {
	e := New(KindInvalidInput, message)
	if field != "" {
		e.Details = map[string]any{"field": field}
	}
	return e
}

// Configuration builds a configuration error.
func Configuration(message string) *Error {
	return New(KindConfiguration, message)
}

// Download builds a download-error for the model catalog subsystem.
func Download(message string) *Error {
	return New(KindDownload, message)
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
