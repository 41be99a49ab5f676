// Package util provides utility functions and types for the proxy.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrNotFound.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ConfigError, UpstreamError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrTimeout        = errors.New("timeout")
	ErrBackendUnavail = errors.New("backend unavailable")
	ErrStreamFailed   = errors.New("response stream failed")
	ErrConfigInvalid  = errors.New("invalid configuration")
)

// ConfigError represents a rules or process configuration error.
// Pattern identifies the offending rule when the error comes from the
// rule compiler.
type ConfigError struct {
	Pattern string
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	var msg string
	switch {
	case e.Pattern != "" && e.Field != "":
		msg = fmt.Sprintf("config error in rule %q at %s: %s", e.Pattern, e.Field, e.Message)
	case e.Pattern != "":
		msg = fmt.Sprintf("config error in rule %q: %s", e.Pattern, e.Message)
	case e.Field != "":
		msg = fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	default:
		msg = fmt.Sprintf("config error: %s", e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// NewRuleError creates a ConfigError bound to a rule pattern.
func NewRuleError(pattern, field, message string, cause error) *ConfigError {
	return &ConfigError{Pattern: pattern, Field: field, Message: message, Cause: cause}
}

// RouteNotFoundError signals that no rule matched a request. It is not a
// failure of the router, callers use it to fall through.
type RouteNotFoundError struct {
	Method string
	URI    string
}

// Error implements the error interface.
func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no rule found for %s %s", e.Method, e.URI)
}

// Is checks if the error matches the target.
func (e *RouteNotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	_, ok := target.(*RouteNotFoundError)
	return ok
}

// NewRouteNotFoundError creates a new RouteNotFoundError.
func NewRouteNotFoundError(method, uri string) *RouteNotFoundError {
	return &RouteNotFoundError{Method: method, URI: uri}
}

// UpstreamKind classifies a failed exchange with a backend.
type UpstreamKind string

// Upstream failure kinds.
const (
	UpstreamTimeout     UpstreamKind = "timeout"
	UpstreamUnavailable UpstreamKind = "unavailable"
	UpstreamStream      UpstreamKind = "stream"
)

// UpstreamError represents a failed exchange with a backend.
type UpstreamError struct {
	Kind    UpstreamKind
	Rule    string
	Target  string
	Timeout time.Duration
	Cause   error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	var msg string
	switch e.Kind {
	case UpstreamTimeout:
		msg = fmt.Sprintf("upstream %s timed out after %v", e.Target, e.Timeout)
	case UpstreamStream:
		msg = fmt.Sprintf("upstream %s response stream failed", e.Target)
	default:
		msg = fmt.Sprintf("upstream %s unavailable", e.Target)
	}
	if e.Rule != "" {
		msg += " (rule " + e.Rule + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *UpstreamError) Is(target error) bool {
	switch {
	case target == ErrTimeout:
		return e.Kind == UpstreamTimeout
	case target == ErrBackendUnavail:
		return e.Kind == UpstreamUnavailable
	case target == ErrStreamFailed:
		return e.Kind == UpstreamStream
	}
	_, ok := target.(*UpstreamError)
	return ok || errors.Is(e.Cause, target)
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(kind UpstreamKind, rule, target string, cause error) *UpstreamError {
	return &UpstreamError{Kind: kind, Rule: rule, Target: target, Cause: cause}
}

// NewUpstreamTimeoutError creates an UpstreamError of kind timeout.
func NewUpstreamTimeoutError(rule, target string, timeout time.Duration) *UpstreamError {
	return &UpstreamError{Kind: UpstreamTimeout, Rule: rule, Target: target, Timeout: timeout}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// UpstreamKindOf returns the kind of an upstream error, or "" when err is
// not an UpstreamError.
func UpstreamKindOf(err error) UpstreamKind {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Kind
	}
	return ""
}
