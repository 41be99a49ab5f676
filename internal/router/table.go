package router

import (
	"bytes"
	"net/http"
	"time"

	"github.com/vyrodovalexey/avaproxy/internal/proxy"
	"github.com/vyrodovalexey/avaproxy/internal/rules"
	"github.com/vyrodovalexey/avaproxy/internal/storage"
)

// Kind is the handler family a rule dispatches to.
type Kind string

// Handler kinds.
const (
	KindForward Kind = "forward"
	KindNull    Kind = "null"
	KindStorage Kind = "storage"
)

// Handler runs an exchange for a matched rule. body, when non-nil, is a
// request body already consumed upstream.
type Handler interface {
	Handle(w http.ResponseWriter, r *http.Request, body []byte)
}

// entry binds a rule to its handler.
type entry struct {
	rule    *rules.Rule
	kind    Kind
	handler Handler
	pool    *proxy.Pool
}

// Table is an immutable ordered routing table.
type Table struct {
	entries []entry
	raw     []byte
	source  string
	loaded  time.Time
}

// Match returns the first rule accepting method and uri, with the capture
// groups of the match.
func (t *Table) Match(method, uri string) (*rules.Rule, []string, bool) {
	e, groups, ok := t.lookup(method, uri)
	if !ok {
		return nil, nil, false
	}
	return e.rule, groups, true
}

func (t *Table) lookup(method, uri string) (*entry, []string, bool) {
	if t == nil {
		return nil, nil, false
	}
	for i := range t.entries {
		if groups, ok := t.entries[i].rule.Match(method, uri); ok {
			return &t.entries[i], groups, true
		}
	}
	return nil, nil, false
}

// Len returns the number of rules.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Rules returns the rules in match order.
func (t *Table) Rules() []*rules.Rule {
	if t == nil {
		return nil
	}
	out := make([]*rules.Rule, len(t.entries))
	for i := range t.entries {
		out[i] = t.entries[i].rule
	}
	return out
}

// Raw returns a copy of the document the table was compiled from.
func (t *Table) Raw() []byte {
	if t == nil {
		return nil
	}
	return bytes.Clone(t.raw)
}

// Source returns where the table was loaded from.
func (t *Table) Source() string {
	if t == nil {
		return ""
	}
	return t.source
}

// LoadedAt returns when the table was built.
func (t *Table) LoadedAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.loaded
}

// release drops the table's pool references.
func (t *Table) release() {
	if t == nil {
		return
	}
	for _, e := range t.entries {
		if e.pool != nil {
			e.pool.Release()
		}
	}
}

// storageHandler adapts the storage Responder to Handler.
type storageHandler struct {
	responder *storage.Responder
	rule      *rules.Rule
}

func (h storageHandler) Handle(w http.ResponseWriter, r *http.Request, _ []byte) {
	h.responder.Serve(w, r, h.rule)
}
