// Package memerr defines the typed error taxonomy shared by every tier,
// engine, and storage adapter in the memory substrate.
package memerr

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per kind in the error handling design. Callers use
// errors.Is against these; adapters and engines wrap them with context via
// fmt.Errorf("...: %w", ErrX).
var (
	// ErrConfiguration signals a missing or invalid option at construction time. Fatal.
	ErrConfiguration = errors.New("memerr: configuration error")
	// ErrConnection signals a backend is unreachable. Retryable with backoff.
	ErrConnection = errors.New("memerr: connection error")
	// ErrDataValidation signals a missing required field, schema violation, or
	// out-of-range score. Non-retryable.
	ErrDataValidation = errors.New("memerr: data validation error")
	// ErrNotFound is returned by retrieve operations instead of panicking.
	ErrNotFound = errors.New("memerr: not found")
	// ErrTransientBackend signals a timeout, overload, or 5xx. Retryable, trips
	// the circuit breaker after a threshold.
	ErrTransientBackend = errors.New("memerr: transient backend error")
	// ErrLLMParse signals the LLM response did not satisfy its schema.
	ErrLLMParse = errors.New("memerr: llm parse error")
	// ErrRateLimited signals a provider rate limit; never fatal at the client layer.
	ErrRateLimited = errors.New("memerr: rate limited")
	// ErrCircuitOpen signals the circuit breaker is open for a provider.
	ErrCircuitOpen = errors.New("memerr: circuit open")
)

// Kind classifies err against the known sentinels, returning "unknown"
// if err doesn't match any of them ("" for a nil err). Useful for
// logging and for dispatch in the
// engines' resilience paths.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrDataValidation):
		return "data_validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransientBackend):
		return "transient_backend"
	case errors.Is(err, ErrLLMParse):
		return "llm_parse"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Retryable reports whether the error kind is one the caller should retry
// (with backoff) rather than surface immediately.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTransientBackend) || errors.Is(err, ErrRateLimited)
}

// Wrap annotates err with a component-scoped message while preserving the
// sentinel for errors.Is.
func Wrap(kind error, msg string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(msg, args...), kind)
}
