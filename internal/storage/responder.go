package storage

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/rules"
)

// Responder answers requests matched by storage rules straight from a
// ResourceStorage.
type Responder struct {
	store  ResourceStorage
	logger observability.Logger
}

// NewResponder creates a Responder over store.
func NewResponder(store ResourceStorage, logger observability.Logger) *Responder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Responder{store: store, logger: logger}
}

// Serve answers r for rule. The rewritten path, without query, is looked
// up in the rule's storage namespace.
func (s *Responder) Serve(w http.ResponseWriter, r *http.Request, rule *rules.Rule) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = io.WriteString(w, `{"error":"method not allowed","message":"storage routes are read-only"}`)
		return
	}

	path, _, _ := strings.Cut(rule.TargetURI(r.URL.RequestURI()), "?")
	key := Key(rule.StorageID, path)

	value, ok, err := s.store.Get(r.Context(), key)
	if err != nil {
		s.logger.Error("storage lookup failed",
			observability.Rule(rule.Pattern),
			observability.String("key", key),
			observability.Error(err),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"service unavailable","message":"storage lookup failed"}`)
		return
	}
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"not found","message":"no stored resource"}`)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(value))
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(value)
	}
}
