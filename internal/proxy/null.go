package proxy

import (
	"io"
	"net/http"

	"github.com/vyrodovalexey/avaproxy/internal/audit"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/rules"
	"github.com/vyrodovalexey/avaproxy/internal/util"
)

// NullForwarder answers every request of a rule without a target with an
// empty 200. It never contacts a backend.
type NullForwarder struct {
	rule *rules.Rule
	opts *options
}

// NewNullForwarder creates a NullForwarder for rule.
func NewNullForwarder(rule *rules.Rule, opts ...Option) *NullForwarder {
	return &NullForwarder{rule: rule, opts: buildOptions(opts)}
}

// Rule returns the rule the forwarder is bound to.
func (n *NullForwarder) Rule() *rules.Rule {
	return n.rule
}

// Handle drains the request body, answers 200 with no content and
// records the request for auditing.
func (n *NullForwarder) Handle(w http.ResponseWriter, r *http.Request, body []byte) {
	label := n.rule.MetricLabel()
	uri := util.RequestURI(r)
	token := n.opts.monitor.StartTracking(label, uri)
	defer n.opts.monitor.StopTracking(label, token, uri)

	capture := newCaptureBuffer(n.opts.captureBytes)
	switch {
	case body != nil:
		_, _ = capture.Write(body)
	case r.Body != nil:
		if _, err := io.Copy(capture, r.Body); err != nil {
			n.opts.logger.Debug("request body drain failed",
				observability.Rule(n.rule.Pattern),
				observability.Error(err),
			)
		}
	}

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)

	n.opts.audit.Record(r.Context(), &audit.Request{
		Rule:       n.rule.Pattern,
		Method:     r.Method,
		URI:        uri,
		Header:     r.Header,
		Body:       capture.Bytes(),
		User:       userID(r.Header),
		RequestID:  observability.RequestIDFromContext(r.Context()),
		RemoteAddr: r.RemoteAddr,
		Start:      token.Start(),
	}, &audit.Response{Header: w.Header()}, http.StatusOK)
}
