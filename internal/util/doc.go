// Package util provides utility functions and types for the proxy.
//
// This package contains shared utilities used across the proxy
// including context helpers and the error taxonomy.
//
// # Context Helpers
//
// Context utilities for request-scoped data:
//
//	ctx = util.ContextWithRule(ctx, "^/a/(.*)$")
//	pattern := util.RuleFromContext(ctx)
//
// # Error Types
//
// Structured error types for consistent error handling:
//
//   - ConfigError: rule compilation and process configuration errors
//   - RouteNotFoundError: no rule matched, a signal for the caller
//   - UpstreamError: timeout, unavailable and stream failures of a backend
//   - Common sentinel errors: ErrNotFound, ErrTimeout, etc.
package util
