package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaproxy/internal/audit"
	"github.com/vyrodovalexey/avaproxy/internal/monitoring"
	"github.com/vyrodovalexey/avaproxy/internal/rules"
)

type auditRecord struct {
	req    *audit.Request
	resp   *audit.Response
	status int
}

// recordingAudit keeps every audited exchange.
type recordingAudit struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *recordingAudit) Record(_ context.Context, req *audit.Request, resp *audit.Response, status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{req: req, resp: resp, status: status})
}

func (a *recordingAudit) RecordReload(context.Context, string, int, error) {}

func (a *recordingAudit) Close() error { return nil }

func (a *recordingAudit) last(t *testing.T) auditRecord {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.records)
	return a.records[len(a.records)-1]
}

// recordingMonitor counts tracking calls per metric name.
type recordingMonitor struct {
	mu      sync.Mutex
	started map[string]int
	stopped map[string]int
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{started: map[string]int{}, stopped: map[string]int{}}
}

func (m *recordingMonitor) StartTracking(metricName, _ string) monitoring.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[metricName]++
	return monitoring.NewNoopHandler().StartTracking(metricName, "")
}

func (m *recordingMonitor) StopTracking(metricName string, _ monitoring.Token, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped[metricName]++
}

func (m *recordingMonitor) counts(name string) (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started[name], m.stopped[name]
}

func compileRule(t *testing.T, doc string) *rules.Rule {
	t.Helper()
	compiled, err := rules.Compile([]byte(doc), nil)
	require.NoError(t, err)
	require.Len(t, compiled, 1)
	return compiled[0]
}

func newTestForwarder(t *testing.T, doc string, opts ...Option) *Forwarder {
	t.Helper()
	rule := compileRule(t, doc)
	target, err := ResolveTarget(rule, "")
	require.NoError(t, err)

	pool := NewPoolRegistry().Acquire(target, rule.PoolSize, rule.KeepAlive)
	t.Cleanup(pool.Release)
	return NewForwarder(rule, pool, opts...)
}

// backendRequest is what a test backend saw.
type backendRequest struct {
	uri    string
	host   string
	header http.Header
	body   string
}

func newBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}
func (failingStore) Put(context.Context, string, []byte, time.Duration) error { return nil }
func (failingStore) Delete(context.Context, string) error                     { return nil }
func (failingStore) Close() error                                             { return nil }
