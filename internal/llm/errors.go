package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed provider call.
type ErrorKind string

const (
	ErrTimeout   ErrorKind = "timeout"
	ErrTransport ErrorKind = "transport"
	ErrProvider  ErrorKind = "provider"
)

// Error wraps a provider failure with its classification.
type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int // HTTP status when known, 0 otherwise
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s error (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the classification of err, or ErrTransport for
// unclassified failures.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if isTimeout(err) {
		return ErrTimeout
	}
	return ErrTransport
}

// ProviderOf reports which provider produced err, or "unknown" when the
// error carries no provider tag.
func ProviderOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Provider != "" {
		return pe.Provider
	}
	return "unknown"
}

// classify wraps a request-path failure as timeout or transport.
func classify(provider string, err error) *Error {
	kind := ErrTransport
	if isTimeout(err) {
		kind = ErrTimeout
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// providerError wraps an upstream rejection (non-2xx or error payload).
func providerError(provider string, status int, msg string) *Error {
	return &Error{
		Kind:     ErrProvider,
		Provider: provider,
		Status:   status,
		Err:      errors.New(msg),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
