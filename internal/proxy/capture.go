package proxy

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// captureBuffer keeps the first limit bytes written to it and discards
// the rest. It is safe for concurrent use.
type captureBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newCaptureBuffer(limit int) *captureBuffer {
	return &captureBuffer{limit: limit}
}

// Write never fails so it can sit behind an io.TeeReader.
func (c *captureBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

// Bytes returns a copy of the captured bytes.
func (c *captureBuffer) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf.Len() == 0 {
		return nil
	}
	return bytes.Clone(c.buf.Bytes())
}

// progressReader reports reads and the end of the stream.
type progressReader struct {
	r      io.Reader
	onRead func()
	onEOF  func()
	eof    bool
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.onRead != nil {
		p.onRead()
	}
	if err == io.EOF && !p.eof {
		p.eof = true
		if p.onEOF != nil {
			p.onEOF()
		}
	}
	return n, err
}

// idleTimer fires once the outbound leg has been idle for d.
type idleTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	d       time.Duration
	stopped bool
}

func newIdleTimer(d time.Duration, fire func()) *idleTimer {
	return &idleTimer{timer: time.AfterFunc(d, fire), d: d}
}

// touch restarts the idle period.
func (t *idleTimer) touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.timer.Reset(t.d)
	}
}

func (t *idleTimer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.timer.Stop()
}
