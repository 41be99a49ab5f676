package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vyrodovalexey/avaproxy/internal/util"
)

// Sentinel errors for proxy operations.
var (
	// ErrNoTarget indicates that a rule has no forwardable target.
	ErrNoTarget = errors.New("rule has no forwardable target")

	// ErrNoLocalAddress indicates a local rule without a configured self address.
	ErrNoLocalAddress = errors.New("local address not configured")

	// ErrClientGone indicates that the client went away mid-exchange.
	ErrClientGone = errors.New("client closed request")
)

// StatusClientClosedRequest is recorded when the client disconnects
// before a response could be written.
const StatusClientClosedRequest = 499

// ProxyError represents a failed step of an exchange.
type ProxyError struct {
	Op      string // Operation that failed
	Rule    string // Rule pattern if applicable
	Target  string // Target URI if applicable
	Message string // Human-readable message
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Rule != "" && e.Target != "" {
		return e.formatWithRuleAndTarget()
	}
	if e.Rule != "" {
		return e.formatWithRule()
	}
	return e.formatBasic()
}

func (e *ProxyError) formatWithRuleAndTarget() string {
	if e.Cause != nil {
		return fmt.Sprintf("proxy error [%s] rule=%s target=%s: %s: %v",
			e.Op, e.Rule, e.Target, e.Message, e.Cause)
	}
	return fmt.Sprintf("proxy error [%s] rule=%s target=%s: %s",
		e.Op, e.Rule, e.Target, e.Message)
}

func (e *ProxyError) formatWithRule() string {
	if e.Cause != nil {
		return fmt.Sprintf("proxy error [%s] rule=%s: %s: %v",
			e.Op, e.Rule, e.Message, e.Cause)
	}
	return fmt.Sprintf("proxy error [%s] rule=%s: %s", e.Op, e.Rule, e.Message)
}

func (e *ProxyError) formatBasic() string {
	if e.Cause != nil {
		return fmt.Sprintf("proxy error [%s]: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("proxy error [%s]: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ProxyError) Is(target error) bool {
	_, ok := target.(*ProxyError)
	return ok || errors.Is(e.Cause, target)
}

// NewProxyError creates a new ProxyError.
func NewProxyError(op, rule, target, message string, cause error) *ProxyError {
	return &ProxyError{
		Op:      op,
		Rule:    rule,
		Target:  target,
		Message: message,
		Cause:   cause,
	}
}

// NewTargetError creates an error for a rule whose target cannot be
// resolved.
func NewTargetError(rule string, cause error) *ProxyError {
	return &ProxyError{
		Op:      "resolve_target",
		Rule:    rule,
		Message: "cannot resolve target",
		Cause:   cause,
	}
}

// IsProxyError checks if an error is a ProxyError.
func IsProxyError(err error) bool {
	var proxyErr *ProxyError
	return errors.As(err, &proxyErr)
}

// statusForError maps a failed exchange to the status sent to the client.
func statusForError(err error) int {
	switch util.UpstreamKindOf(err) {
	case util.UpstreamTimeout:
		return http.StatusGatewayTimeout
	case util.UpstreamUnavailable:
		return http.StatusServiceUnavailable
	case util.UpstreamStream:
		return http.StatusInternalServerError
	}
	if errors.Is(err, ErrClientGone) {
		return StatusClientClosedRequest
	}
	return http.StatusBadGateway
}

// writeErrorBody writes the JSON error response for status.
func writeErrorBody(w http.ResponseWriter, status int) {
	var body string
	switch status {
	case http.StatusGatewayTimeout:
		body = `{"error":"gateway timeout","message":"backend did not respond in time"}`
	case http.StatusServiceUnavailable:
		body = `{"error":"service unavailable","message":"backend unreachable"}`
	case http.StatusInternalServerError:
		body = `{"error":"internal server error","message":"backend response failed"}`
	default:
		body = `{"error":"bad gateway","message":"failed to proxy request"}`
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
