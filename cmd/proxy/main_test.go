package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaproxy/internal/config"
	"github.com/vyrodovalexey/avaproxy/internal/middleware"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig(t *testing.T) *config.GatewayConfig {
	t.Helper()
	cfg := &config.GatewayConfig{Listen: "127.0.0.1:0"}
	cfg.ApplyDefaults()
	cfg.ShutdownTimeout = config.Duration(time.Second)
	return cfg
}

func newTestApplication(t *testing.T, cfg *config.GatewayConfig) *application {
	t.Helper()
	app, err := newApplication(cfg, observability.NopLogger())
	require.NoError(t, err)
	return app
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	valid := writeFile(t, dir, "proxy.yaml", "listen: \":8080\"\nrulesFile: rules.json\n")
	invalid := writeFile(t, dir, "bad.yaml", "storage:\n  type: etcd\n")

	tests := []struct {
		name    string
		flags   cliFlags
		check   func(t *testing.T, cfg *config.GatewayConfig)
		wantErr bool
	}{
		{
			name:  "defaults without a file",
			flags: cliFlags{},
			check: func(t *testing.T, cfg *config.GatewayConfig) {
				assert.Equal(t, config.DefaultListen, cfg.Listen)
				assert.Empty(t, cfg.RulesFile)
			},
		},
		{
			name:  "file with relative rules",
			flags: cliFlags{configPath: valid},
			check: func(t *testing.T, cfg *config.GatewayConfig) {
				assert.Equal(t, ":8080", cfg.Listen)
				assert.Equal(t, filepath.Join(dir, "rules.json"), cfg.RulesFile)
			},
		},
		{
			name:  "flags override the file",
			flags: cliFlags{configPath: valid, rulesPath: "/etc/rules.json", logLevel: "debug", logFormat: "console"},
			check: func(t *testing.T, cfg *config.GatewayConfig) {
				assert.Equal(t, "/etc/rules.json", cfg.RulesFile)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "console", cfg.Logging.Format)
			},
		},
		{name: "missing file", flags: cliFlags{configPath: filepath.Join(dir, "none.yaml")}, wantErr: true},
		{name: "invalid config", flags: cliFlags{configPath: invalid}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := loadConfig(tt.flags)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestApplication_ServesRules(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "backend:"+r.URL.Path)
	}))
	t.Cleanup(backend.Close)

	doc := fmt.Sprintf(`{"^/api/(.*)$": {"url": "%s/v1/$1"}, "^/sink$": {}}`, backend.URL)
	cfg := testConfig(t)
	cfg.RulesFile = writeFile(t, t.TempDir(), "rules.json", doc)

	app := newTestApplication(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	watcher, err := app.startRulesWatcher(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = watcher.Stop()
		app.close()
	})

	tests := []struct {
		name       string
		method     string
		uri        string
		body       string
		wantStatus int
		wantBody   string
	}{
		{name: "forwarded", method: http.MethodGet, uri: "/api/users", wantStatus: http.StatusOK, wantBody: "backend:/v1/users"},
		{name: "null rule", method: http.MethodPost, uri: "/sink", body: "x", wantStatus: http.StatusOK},
		{name: "not routed", method: http.MethodGet, uri: "/nothing", wantStatus: http.StatusNotFound},
		{name: "rules resource", method: http.MethodGet, uri: cfg.AdminPath, wantStatus: http.StatusOK, wantBody: doc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			app.handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.uri, strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestApplication_AdminReload(t *testing.T) {
	t.Parallel()

	app := newTestApplication(t, testConfig(t))
	t.Cleanup(app.close)

	put := httptest.NewRequest(http.MethodPut, app.config.AdminPath, strings.NewReader(`{"^/new$": {}}`))
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rules":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/new", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApplication_BadRulesFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.RulesFile = writeFile(t, t.TempDir(), "rules.json", `{"^/a$": {"timeout": -1}}`)

	app := newTestApplication(t, cfg)

	err := app.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load rules file")
}

func TestApplication_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	app := newTestApplication(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestNewRootHandler(t *testing.T) {
	t.Parallel()

	admin := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "admin") })
	routes := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "routes") })
	h := newRootHandler("/admin/rules", admin, routes)

	tests := []struct {
		uri  string
		want string
	}{
		{uri: "/admin/rules", want: "admin"},
		{uri: "/admin/rules?x=1", want: "admin"},
		{uri: "/admin/rules/x", want: "routes"},
		{uri: "//admin/rules", want: "routes"},
		{uri: "/a", want: "routes"},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.uri, nil))
		assert.Equal(t, tt.want, rec.Body.String(), tt.uri)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("PROXY_TEST_VALUE", "set")

	assert.Equal(t, "set", getEnvOrDefault("PROXY_TEST_VALUE", "default"))
	assert.Equal(t, "default", getEnvOrDefault("PROXY_TEST_UNSET_VALUE", "default"))
}
