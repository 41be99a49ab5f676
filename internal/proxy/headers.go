package proxy

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avaproxy/internal/rules"
)

// Header names used by the forwarder.
const (
	HeaderOnBehalfOf     = "X-On-Behalf-Of"
	HeaderUser           = "X-Rp-Usr"
	HeaderUniqueID       = "X-Rp-Unique-Id"
	HeaderSelfRequest    = "X-Self-Request"
	HeaderUserPrefix     = "X-User-"
	legacyUniqueIDHeader = "x-rp-unique_id"
)

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopHeaders strips hop-by-hop headers, including those named in
// Connection.
func removeHopHeaders(h http.Header) {
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// copyHeader adds all values of src to dst.
func copyHeader(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// takeHeader removes every key equal to name ignoring case and returns
// the first value found. It also catches keys that were stored without
// canonicalization.
func takeHeader(h http.Header, name string) (string, bool) {
	var (
		value string
		found bool
	)
	for key, values := range h {
		if !strings.EqualFold(key, name) {
			continue
		}
		if !found && len(values) > 0 {
			value = values[0]
			found = true
		}
		delete(h, key)
	}
	return value, found
}

// userID returns the effective user of a request.
func userID(h http.Header) string {
	if user := h.Get(HeaderOnBehalfOf); user != "" {
		return user
	}
	return h.Get(HeaderUser)
}

// outboundHeader builds the headers sent to the backend. Profile headers
// are added before static headers so that the rule always wins. The Host
// entry is moved onto the request by the caller.
func outboundHeader(r *http.Request, rule *rules.Rule, target Target, profile http.Header) http.Header {
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	removeHopHeaders(h)

	id, ok := takeHeader(h, legacyUniqueIDHeader)
	if current := h.Get(HeaderUniqueID); current != "" {
		id, ok = current, true
	}
	if !ok || id == "" {
		id = uuid.New().String()
	}
	h.Set(HeaderUniqueID, id)

	if !rule.IsLoopback() {
		h.Set(HeaderSelfRequest, "")
	}

	setForwardedHeaders(h, r)

	if auth := rule.BasicAuth(); auth != "" {
		h.Set("Authorization", auth)
	}

	for name, values := range profile {
		h[name] = values
	}

	h.Set("Host", target.Host)

	for _, sh := range rule.StaticHeaders {
		h.Set(sh.Name, sh.Value)
	}
	return h
}

// setForwardedHeaders sets the X-Forwarded-* headers.
func setForwardedHeaders(h http.Header, r *http.Request) {
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}

	if r.TLS != nil {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}

	h.Set("X-Forwarded-Host", r.Host)
}
