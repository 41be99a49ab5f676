package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigResource(t *testing.T) {
	t.Parallel()

	const initial = `{"^/a$": {"metricName": "a"}}`

	tests := []struct {
		name        string
		method      string
		body        string
		wantStatus  int
		wantPattern string
		wantLive    string
	}{
		{name: "get", method: http.MethodGet, wantStatus: http.StatusOK, wantLive: "a"},
		{name: "put valid", method: http.MethodPut, body: `{"^/a$": {"metricName": "b"}}`, wantStatus: http.StatusOK, wantLive: "b"},
		{name: "put invalid", method: http.MethodPut, body: `{"^/a$": {"url": "ftp://x/a"}}`, wantStatus: http.StatusBadRequest, wantPattern: "^/a$", wantLive: "a"},
		{name: "put too large", method: http.MethodPut, body: strings.Repeat(" ", 2048), wantStatus: http.StatusRequestEntityTooLarge, wantLive: "a"},
		{name: "delete", method: http.MethodDelete, wantStatus: http.StatusMethodNotAllowed, wantLive: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rt := newTestRouter(t, initial)
			resource := NewConfigResource(rt, WithMaxDocumentBytes(1024))

			rec := httptest.NewRecorder()
			resource.ServeHTTP(rec, httptest.NewRequest(tt.method, "/server/admin/v1/routing/rules", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			switch {
			case tt.method == http.MethodGet:
				assert.JSONEq(t, initial, rec.Body.String())
			case tt.wantStatus == http.StatusBadRequest:
				var body reloadError
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantPattern, body.Pattern)
				assert.NotEmpty(t, body.Error)
			case tt.wantStatus == http.StatusOK:
				var body reloadResult
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, 1, body.Rules)
			}

			rule, _, ok := rt.Match(http.MethodGet, "/a")
			require.True(t, ok)
			assert.Equal(t, tt.wantLive, rule.MetricName)
		})
	}
}

func TestConfigResource_EmptyTable(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewConfigResource(newTestRouter(t, "")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}", rec.Body.String())
}
