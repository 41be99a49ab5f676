package rules

import (
	"encoding/base64"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Target schemes.
const (
	SchemeHTTP    = "http"
	SchemeHTTPS   = "https"
	SchemeLocal   = "local"
	SchemeStorage = "storage"
	SchemeNull    = "null"
)

// Compile-time defaults for optional rule fields.
const (
	DefaultPoolSize  = 50
	DefaultKeepAlive = true
	DefaultTimeout   = 30 * time.Second
	DefaultLogExpiry = 4 * time.Hour
)

// Header is a single static header in declaration order.
type Header struct {
	Name  string
	Value string
}

// Rule is one compiled routing entry. It is read-only once compiled and
// safe for concurrent use.
type Rule struct {
	// Pattern is the source regular expression, as declared.
	Pattern string

	// Regexp is Pattern anchored at both ends, so it only accepts the
	// full request URI.
	Regexp *regexp.Regexp

	Scheme    string
	Host      string
	Port      int
	Path      string
	StorageID string

	// Methods is the optional upper-case allow-list. Empty allows all.
	Methods []string

	PoolSize  int
	KeepAlive bool
	Timeout   time.Duration

	StaticHeaders   []Header
	TranslateStatus []StatusTranslation
	Profile         []string

	Username string
	Password string

	MetricName      string
	LogExpiry       time.Duration
	ExpandOnBackend bool
	StorageExpand   bool

	// template is Path with capture references normalized to ${N}.
	template string
}

// Match reports whether the rule accepts the method and URI, returning
// the capture groups of the match.
func (r *Rule) Match(method, uri string) ([]string, bool) {
	if !r.AllowsMethod(method) {
		return nil, false
	}
	groups := r.Regexp.FindStringSubmatch(uri)
	if groups == nil {
		return nil, false
	}
	return groups, true
}

// AllowsMethod reports whether method is permitted by the rule.
func (r *Rule) AllowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// TargetURI rewrites an inbound request URI into the outbound one by
// substituting capture groups into the rule path. Repeated slashes in the
// path part of the result are collapsed; the query is left as produced.
func (r *Rule) TargetURI(uri string) string {
	rewritten := r.Regexp.ReplaceAllString(uri, r.template)

	path, query, hasQuery := strings.Cut(rewritten, "?")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if hasQuery {
		return path + "?" + query
	}
	return path
}

// Address returns the host:port of a remote target.
func (r *Rule) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// IsRemote reports whether the rule forwards over HTTP(S) or to the
// local listener.
func (r *Rule) IsRemote() bool {
	switch r.Scheme {
	case SchemeHTTP, SchemeHTTPS, SchemeLocal:
		return true
	default:
		return false
	}
}

// IsLoopback reports whether the target host is this machine.
func (r *Rule) IsLoopback() bool {
	if r.Scheme == SchemeLocal || strings.EqualFold(r.Host, "localhost") {
		return true
	}
	ip := net.ParseIP(r.Host)
	return ip != nil && ip.IsLoopback()
}

// BasicAuth returns the Authorization header value, or "" when the rule
// has no credentials.
func (r *Rule) BasicAuth() string {
	if r.Username == "" {
		return ""
	}
	creds := r.Username + ":" + r.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

// MetricLabel is the name the rule is tracked under.
func (r *Rule) MetricLabel() string {
	if r.MetricName != "" {
		return r.MetricName
	}
	return r.Pattern
}

// TranslateResponseStatus applies status translation to a backend
// status. Request headers are consulted first; rule translations only
// apply when the headers left the status unchanged.
func (r *Rule) TranslateResponseStatus(reqHeader http.Header, status int) int {
	if translated := TranslateByHeaders(reqHeader, status); translated != status {
		return translated
	}
	for _, t := range r.TranslateStatus {
		if t.Matches(status) {
			return t.Status
		}
	}
	return status
}
