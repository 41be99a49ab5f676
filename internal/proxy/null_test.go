package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNullForwarder_Handle(t *testing.T) {
	t.Parallel()

	rule := compileRule(t, `{"^/sink/.*$": {"metricName": "sink"}}`)

	tests := []struct {
		name     string
		method   string
		body     string
		buffered []byte
		wantBody string
	}{
		{name: "get", method: http.MethodGet},
		{name: "post drains body", method: http.MethodPost, body: "payload", wantBody: "payload"},
		{name: "prebuffered", method: http.MethodPut, body: "ignored", buffered: []byte("buffered"), wantBody: "buffered"},
		{name: "delete", method: http.MethodDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recorder := &recordingAudit{}
			monitor := newRecordingMonitor()
			fwd := NewNullForwarder(rule, WithAudit(recorder), WithMonitoring(monitor))

			body := strings.NewReader(tt.body)
			req := httptest.NewRequest(tt.method, "/sink/x", body)
			rec := httptest.NewRecorder()

			fwd.Handle(rec, req, tt.buffered)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "0", rec.Header().Get("Content-Length"))
			assert.Empty(t, rec.Body.String())
			if tt.buffered == nil {
				assert.Zero(t, body.Len())
			}

			last := recorder.last(t)
			assert.Equal(t, tt.method, last.req.Method)
			assert.Equal(t, "/sink/x", last.req.URI)
			assert.Equal(t, tt.wantBody, string(last.req.Body))
			assert.Equal(t, http.StatusOK, last.status)

			started, stopped := monitor.counts("sink")
			assert.Equal(t, 1, started)
			assert.Equal(t, 1, stopped)
			assert.Same(t, rule, fwd.Rule())
		})
	}
}
