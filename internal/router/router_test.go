package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/proxy"
	"github.com/vyrodovalexey/avaproxy/internal/rules"
	"github.com/vyrodovalexey/avaproxy/internal/storage"
	"github.com/vyrodovalexey/avaproxy/internal/util"
)

func newTestRouter(t *testing.T, doc string, opts ...Option) *Router {
	t.Helper()
	rt := New(opts...)
	t.Cleanup(rt.Close)
	if doc != "" {
		require.NoError(t, rt.Reload([]byte(doc), SourceFile))
	}
	return rt
}

func TestRouter_FirstMatchWins(t *testing.T) {
	t.Parallel()

	rt := newTestRouter(t, `{
		"^/api/.*$": {"metricName": "broad"},
		"^/api/users/(\\d+)$": {"metricName": "narrow"},
		"^/only-post$": {"methods": ["post"], "metricName": "post"},
		"^/only-post$|^/fallback$": {"metricName": "fallback"}
	}`)

	tests := []struct {
		name       string
		method     string
		uri        string
		wantMetric string
		wantOK     bool
	}{
		{name: "earlier broad rule wins", method: http.MethodGet, uri: "/api/users/1", wantMetric: "broad", wantOK: true},
		{name: "method allowed", method: http.MethodPost, uri: "/only-post", wantMetric: "post", wantOK: true},
		{name: "method filtered falls through", method: http.MethodGet, uri: "/only-post", wantMetric: "fallback", wantOK: true},
		{name: "no match", method: http.MethodGet, uri: "/nothing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rule, _, ok := rt.Match(tt.method, tt.uri)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantMetric, rule.MetricName)
			}
		})
	}
}

func TestRouter_RulesCoverWholeURI(t *testing.T) {
	t.Parallel()

	rt := newTestRouter(t, `{"/gateleen/(.*)": {"path": "/b/$1"}, "/x": {}}`, WithLocalAddress("localhost:7012"))

	tests := []struct {
		name        string
		uri         string
		wantPattern string
		wantOK      bool
	}{
		{name: "prefix before pattern", uri: "/other/gateleen/secret"},
		{name: "suffix after pattern", uri: "/x/y/z"},
		{name: "exact literal", uri: "/x", wantPattern: "/x", wantOK: true},
		{name: "group spans rest", uri: "/gateleen/a", wantPattern: "/gateleen/(.*)", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rule, _, ok := rt.Match(http.MethodGet, tt.uri)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantPattern, rule.Pattern)
			}
		})
	}
}

func TestTable_MatchGroups(t *testing.T) {
	t.Parallel()

	rt := newTestRouter(t, `{"^/a/(\\w+)/(\\w+)$": {}}`)

	rule, groups, ok := rt.Table().Match(http.MethodGet, "/a/x/y")
	require.True(t, ok)
	assert.Equal(t, rules.SchemeNull, rule.Scheme)
	assert.Equal(t, []string{"/a/x/y", "x", "y"}, groups)
	assert.Equal(t, 1, rt.Table().Len())
	assert.Len(t, rt.Table().Rules(), 1)
	assert.Equal(t, SourceFile, rt.Table().Source())
	assert.False(t, rt.Table().LoadedAt().IsZero())
}

func TestRouter_Dispatch(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "backend:"+r.URL.Path)
	}))
	t.Cleanup(backend.Close)

	store := storage.NewMemoryStorage()
	require.NoError(t, store.Put(context.Background(), "docs:/files/a.txt", []byte("stored"), 0))

	rt := newTestRouter(t, fmt.Sprintf(`{
		"^/fwd/(.*)$": {"url": "%s/b/$1"},
		"^/docs/(.*)$": {"path": "/files/$1", "storage": "docs"},
		"^/sink$": {}
	}`, backend.URL), WithResponder(storage.NewResponder(store, nil)))

	tests := []struct {
		name       string
		method     string
		uri        string
		wantStatus int
		wantBody   string
	}{
		{name: "forwarded", method: http.MethodGet, uri: "/fwd/x", wantStatus: http.StatusOK, wantBody: "backend:/b/x"},
		{name: "storage", method: http.MethodGet, uri: "/docs/a.txt", wantStatus: http.StatusOK, wantBody: "stored"},
		{name: "storage miss", method: http.MethodGet, uri: "/docs/b.txt", wantStatus: http.StatusNotFound},
		{name: "null", method: http.MethodPost, uri: "/sink", wantStatus: http.StatusOK},
		{name: "not routed", method: http.MethodGet, uri: "/other", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			rt.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.uri, strings.NewReader("body")))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRouter_TryHandleAnnotatesRule(t *testing.T) {
	t.Parallel()

	rt := newTestRouter(t, `{"^/sink$": {"metricName": "sink"}}`)
	metrics := observability.NewMetrics("annotate")

	var handled bool
	h := observability.MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handled = rt.TryHandle(w, r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sink", nil))

	assert.True(t, handled)
	count, err := testutil.GatherAndCount(metrics.Registry(), "annotate_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRouter_FailedReloadKeepsTable(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("reload")
	rt := newTestRouter(t, `{"^/a$": {"metricName": "first"}}`, WithMetrics(metrics))
	before := rt.Table()

	tests := []struct {
		name    string
		doc     string
		pattern string
	}{
		{name: "bad regex", doc: `{"^/b$": {}, "([": {}}`, pattern: "(["},
		{name: "url and path", doc: `{"^/b$": {"url": "http://x/b", "path": "/b"}}`, pattern: "^/b$"},
		{name: "not json", doc: `{`},
		{name: "storage without responder", doc: `{"^/b$": {"path": "/b", "storage": "s"}}`, pattern: "^/b$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rt.Reload([]byte(tt.doc), SourceAdmin)
			require.Error(t, err)
			assert.True(t, errors.Is(err, util.ErrConfigInvalid))

			var cfgErr *util.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.pattern, cfgErr.Pattern)

			assert.Same(t, before, rt.Table())
			rule, _, ok := rt.Match(http.MethodGet, "/a")
			require.True(t, ok)
			assert.Equal(t, "first", rule.MetricName)
		})
	}

	count, err := testutil.GatherAndCount(metrics.Registry(), "reload_rules_reloads_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRouter_ReloadReleasesPools(t *testing.T) {
	t.Parallel()

	pools := proxy.NewPoolRegistry()
	rt := newTestRouter(t, `{"^/a$": {"url": "http://backend-a/a"}, "^/b$": {"url": "http://backend-a/b"}}`,
		WithPoolRegistry(pools))
	assert.Equal(t, 1, pools.Len())

	require.NoError(t, rt.Reload([]byte(`{"^/a$": {"url": "http://backend-a/a"}}`), SourceFile))
	assert.Equal(t, 1, pools.Len())

	require.NoError(t, rt.Reload([]byte(`{"^/c$": {"url": "http://backend-c/c"}}`), SourceFile))
	assert.Equal(t, 1, pools.Len())

	require.NoError(t, rt.Reload([]byte(`{"^/n$": {}}`), SourceFile))
	assert.Equal(t, 0, pools.Len())
}

func TestRouter_LocalRules(t *testing.T) {
	t.Parallel()

	rt := New()
	t.Cleanup(rt.Close)
	err := rt.Reload([]byte(`{"^/l$": {"path": "/l"}}`), SourceFile)
	require.Error(t, err)
	assert.True(t, errors.Is(err, proxy.ErrNoLocalAddress))

	rt2 := newTestRouter(t, `{"^/l$": {"path": "/l"}}`, WithLocalAddress("localhost:7012"))
	rule, _, ok := rt2.Match(http.MethodGet, "/l")
	require.True(t, ok)
	assert.Equal(t, rules.SchemeLocal, rule.Scheme)
}

func TestRouter_ConcurrentSwap(t *testing.T) {
	t.Parallel()

	rt := newTestRouter(t, `{"^/x$": {"metricName": "v0"}}`)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				rule, _, ok := rt.Match(http.MethodGet, "/x")
				if !ok || !strings.HasPrefix(rule.MetricName, "v") {
					t.Error("lookup observed a partial table")
					return
				}
			}
		}()
	}

	for i := 1; i <= 50; i++ {
		require.NoError(t, rt.Reload([]byte(fmt.Sprintf(`{"^/y$": {}, "^/x$": {"metricName": "v%d"}}`, i)), SourceAdmin))
	}
	close(stop)
	wg.Wait()

	rule, _, ok := rt.Match(http.MethodGet, "/x")
	require.True(t, ok)
	assert.Equal(t, "v50", rule.MetricName)
}

func TestRouter_EmptyTable(t *testing.T) {
	t.Parallel()

	rt := New()
	t.Cleanup(rt.Close)

	assert.Equal(t, 0, rt.Table().Len())
	assert.False(t, rt.TryHandle(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)))
}
