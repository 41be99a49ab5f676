package router

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/util"
)

// DefaultMaxDocumentBytes bounds the size of a PUT rules document.
const DefaultMaxDocumentBytes = 10 << 20

// ConfigResource exposes the live rules document: GET returns it and PUT
// replaces it.
type ConfigResource struct {
	router   *Router
	maxBytes int64
	logger   observability.Logger
}

// ResourceOption is a functional option for ConfigResource.
type ResourceOption func(*ConfigResource)

// WithMaxDocumentBytes bounds the size of a PUT document.
func WithMaxDocumentBytes(n int64) ResourceOption {
	return func(c *ConfigResource) {
		c.maxBytes = n
	}
}

// WithResourceLogger sets the logger.
func WithResourceLogger(logger observability.Logger) ResourceOption {
	return func(c *ConfigResource) {
		c.logger = logger
	}
}

// NewConfigResource creates the rules resource for rt.
func NewConfigResource(rt *Router, opts ...ResourceOption) *ConfigResource {
	c := &ConfigResource{
		router:   rt,
		maxBytes: DefaultMaxDocumentBytes,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type reloadError struct {
	Error   string `json:"error"`
	Pattern string `json:"pattern,omitempty"`
	Field   string `json:"field,omitempty"`
}

type reloadResult struct {
	Rules int `json:"rules"`
}

// ServeHTTP implements http.Handler.
func (c *ConfigResource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		c.get(w, r)
	case http.MethodPut:
		c.put(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, PUT")
		writeJSON(w, http.StatusMethodNotAllowed, reloadError{Error: "method not allowed"})
	}
}

func (c *ConfigResource) get(w http.ResponseWriter, r *http.Request) {
	raw := c.router.Table().Raw()
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(raw)
	}
}

func (c *ConfigResource) put(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, reloadError{Error: "document too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, reloadError{Error: "failed to read document"})
		return
	}

	if err := c.router.Reload(data, SourceAdmin); err != nil {
		body := reloadError{Error: err.Error()}
		var cfgErr *util.ConfigError
		if errors.As(err, &cfgErr) {
			body.Pattern = cfgErr.Pattern
			body.Field = cfgErr.Field
		}
		c.logger.Info("rules document rejected",
			observability.String("remote_addr", r.RemoteAddr),
			observability.Error(err),
		)
		writeJSON(w, http.StatusBadRequest, body)
		return
	}

	writeJSON(w, http.StatusOK, reloadResult{Rules: c.router.Table().Len()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
