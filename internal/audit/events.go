package audit

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeExchange      EventType = "exchange"
	EventTypeConfiguration EventType = "configuration"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Request is what a forwarder hands to the audit logger about the
// inbound request.
type Request struct {
	Rule       string
	Method     string
	URI        string
	Header     http.Header
	Body       []byte
	User       string
	RequestID  string
	RemoteAddr string
	Start      time.Time
}

// Response is what a forwarder hands to the audit logger about the
// response written to the client. Body holds at most the buffered part.
type Response struct {
	Header http.Header
	Body   []byte
	Size   int64
}

// Event represents an audit event as written to the audit log.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	Type    EventType `json:"type"`
	Outcome Outcome   `json:"outcome"`

	// Rule is the pattern of the rule that handled the request.
	Rule string `json:"rule,omitempty"`

	Request  *RequestDetails  `json:"request,omitempty"`
	Response *ResponseDetails `json:"response,omitempty"`
	Reload   *ReloadDetails   `json:"reload,omitempty"`

	Error string `json:"error,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`

	// Duration is how long the exchange took.
	Duration time.Duration `json:"duration,omitempty"`
}

// RequestDetails contains details about the request.
type RequestDetails struct {
	Method     string            `json:"method,omitempty"`
	URI        string            `json:"uri,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
	User       string            `json:"user,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
}

// ResponseDetails contains details about the response.
type ResponseDetails struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
	Size       int64             `json:"size,omitempty"`
}

// ReloadDetails describes a routing table reload.
type ReloadDetails struct {
	Source string `json:"source"`
	Rules  int    `json:"rules"`
}

// NewEvent creates a new audit event with default values.
func NewEvent(eventType EventType, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Outcome:   outcome,
	}
}

// outcomeForStatus classifies a client status.
func outcomeForStatus(status int) Outcome {
	if status >= http.StatusInternalServerError {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// flattenHeaders joins multi-valued headers with ", ".
func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
