package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const initialRules = `{"^/a": {"url": "http://a.local"}}`

// rulesRecorder collects the payloads delivered by the watcher.
type rulesRecorder struct {
	mu       sync.Mutex
	payloads []string
	fail     bool
}

func (r *rulesRecorder) callback(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("rejected")
	}
	r.payloads = append(r.payloads, string(data))
	return nil
}

func (r *rulesRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return ""
	}
	return r.payloads[len(r.payloads)-1]
}

func (r *rulesRecorder) setFail(fail bool) {
	r.mu.Lock()
	r.fail = fail
	r.mu.Unlock()
}

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()

	path := writeRules(t, initialRules)

	w, err := NewWatcher(path, func([]byte) error { return nil })
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Equal(t, path, w.path)
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
}

func TestNewWatcher_WithOptions(t *testing.T) {
	t.Parallel()

	path := writeRules(t, initialRules)
	var gotErr error

	w, err := NewWatcher(path, nil,
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(func(err error) { gotErr = err }),
	)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Equal(t, 10*time.Millisecond, w.debounceDelay)
	require.NotNil(t, w.errorCallback)
	w.errorCallback(errors.New("boom"))
	assert.EqualError(t, gotErr, "boom")
}

func TestWatcher_StartDeliversInitialContent(t *testing.T) {
	t.Parallel()

	path := writeRules(t, initialRules)
	rec := &rulesRecorder{}

	w, err := NewWatcher(path, rec.callback)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	assert.Equal(t, initialRules, rec.last())
	assert.Equal(t, initialRules, string(w.LastContent()))
}

func TestWatcher_StartFailsOnRejectedContent(t *testing.T) {
	t.Parallel()

	path := writeRules(t, initialRules)
	rec := &rulesRecorder{fail: true}

	w, err := NewWatcher(path, rec.callback)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background())
	require.Error(t, err)
	assert.Nil(t, w.LastContent())
}

func TestWatcher_StartMissingFile(t *testing.T) {
	t.Parallel()

	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing.json"), nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read rules file")
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	t.Parallel()

	path := writeRules(t, initialRules)
	rec := &rulesRecorder{}

	w, err := NewWatcher(path, rec.callback, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	updated := `{"^/b": {"url": "http://b.local"}}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool {
		return rec.last() == updated
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcher_FailedReloadKeepsLastContent(t *testing.T) {
	t.Parallel()

	path := writeRules(t, initialRules)
	rec := &rulesRecorder{}
	errCh := make(chan error, 4)

	w, err := NewWatcher(path, rec.callback,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(err error) {
			select {
			case errCh <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	rec.setFail(true)
	require.NoError(t, os.WriteFile(path, []byte(`{"bad": 1}`), 0o600))

	select {
	case err := <-errCh:
		assert.EqualError(t, err, "rejected")
	case <-time.After(2 * time.Second):
		t.Fatal("expected reload error")
	}
	assert.Equal(t, initialRules, string(w.LastContent()))
}

func TestWatcher_Stop(t *testing.T) {
	t.Parallel()

	path := writeRules(t, initialRules)
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
}
