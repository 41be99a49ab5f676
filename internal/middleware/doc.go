// Package middleware provides the HTTP middleware wrapped around the
// routing table.
//
// # Middleware Components
//
//   - Recovery: panic recovery with stack trace logging
//   - RequestID: unique request identifier injection
//   - Logging: structured access logging with the matched rule
//
// The chain is assembled in cmd/proxy, outermost first:
//
//	Recovery -> RequestID -> Logging -> Tracing -> Metrics -> [router]
package middleware
