package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/util"
)

// targetURLPattern splits a remote target URL into scheme, host, port
// and path.
var targetURLPattern = regexp.MustCompile(`^(https?)://([^/:]+)(:(\d+))?(/.*)$`)

// groupRefPattern finds capture references in a path template: $N, ${N},
// an escaped $$ or a lone $.
var groupRefPattern = regexp.MustCompile(`\$(\d+|\{\d+\}|\$)?`)

// Factory compiles routing rule documents.
type Factory struct {
	properties map[string]string
	validate   *validator.Validate
	logger     observability.Logger
}

// FactoryOption is a functional option for configuring the factory.
type FactoryOption func(*Factory)

// WithProperties sets the map used for ${name} substitution.
func WithProperties(properties map[string]string) FactoryOption {
	return func(f *Factory) {
		f.properties = properties
	}
}

// WithLogger sets the logger for the factory.
func WithLogger(logger observability.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// NewFactory creates a rule compiler.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		properties: map[string]string{},
		validate:   newValidator(),
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Compile compiles a rules document with the given properties.
func Compile(data []byte, properties map[string]string) ([]*Rule, error) {
	return NewFactory(WithProperties(properties)).Compile(data)
}

// Compile turns a JSON rules document into rules in declaration order.
// The result is all or nothing: the first bad rule fails the whole
// document with a *util.ConfigError naming it.
func (f *Factory) Compile(data []byte) ([]*Rule, error) {
	doc, err := SubstituteProperties(string(data), f.properties)
	if err != nil {
		return nil, err
	}

	if !gjson.Valid(doc) {
		return nil, util.NewConfigError("document", "rules document is not valid JSON")
	}
	root := gjson.Parse(doc)
	if !root.IsObject() {
		return nil, util.NewConfigError("document", "rules document must be a JSON object")
	}

	var (
		compiled []*Rule
		seen     = make(map[string]struct{})
		cerr     error
	)
	root.ForEach(func(key, value gjson.Result) bool {
		pattern := key.String()
		if _, dup := seen[pattern]; dup {
			cerr = util.NewRuleError(pattern, "", "duplicate rule pattern", nil)
			return false
		}
		seen[pattern] = struct{}{}

		rule, err := f.compileRule(pattern, value)
		if err != nil {
			cerr = err
			return false
		}
		compiled = append(compiled, rule)
		return true
	})
	if cerr != nil {
		return nil, cerr
	}

	f.logger.Debug("compiled routing rules",
		observability.Int("rules", len(compiled)),
	)
	return compiled, nil
}

func (f *Factory) compileRule(pattern string, value gjson.Result) (*Rule, error) {
	if !value.IsObject() {
		return nil, util.NewRuleError(pattern, "", "rule must be a JSON object", nil)
	}

	if _, err := regexp.Compile(pattern); err != nil {
		return nil, util.NewRuleError(pattern, "pattern", "invalid regular expression", err)
	}
	// A rule has to cover the whole URI, however the pattern is written.
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, util.NewRuleError(pattern, "pattern", "invalid regular expression", err)
	}

	doc, err := decodeRule(f.validate, value.Raw)
	if err != nil {
		return nil, util.NewRuleError(pattern, "schema", "rule does not match schema", err)
	}

	rule := &Rule{
		Pattern:         pattern,
		Regexp:          re,
		Methods:         doc.Methods,
		Profile:         doc.Profile,
		PoolSize:        DefaultPoolSize,
		KeepAlive:       DefaultKeepAlive,
		Timeout:         DefaultTimeout,
		LogExpiry:       DefaultLogExpiry,
		ExpandOnBackend: boolOr(doc.ExpandOnBackend, false),
		StorageExpand:   boolOr(doc.StorageExpand, false),
	}

	if err := applyTarget(rule, doc); err != nil {
		return nil, err
	}
	if err := applyPolicy(rule, doc); err != nil {
		return nil, err
	}
	if err := applyMaps(rule, doc); err != nil {
		return nil, err
	}

	f.logger.Debug("compiled rule",
		observability.String("pattern", pattern),
		observability.String("scheme", rule.Scheme),
		observability.String("host", rule.Host),
		observability.String("path", rule.Path),
		observability.Strings("methods", rule.Methods),
		observability.Strings("profile", rule.Profile),
	)
	return rule, nil
}

// applyTarget resolves url, path and storage into the rule target.
func applyTarget(rule *Rule, doc *ruleDocument) error {
	pattern := rule.Pattern

	switch {
	case doc.URL != nil && doc.Path != nil:
		return util.NewRuleError(pattern, "url", "url and path are mutually exclusive", nil)

	case doc.URL != nil:
		m := targetURLPattern.FindStringSubmatch(*doc.URL)
		if m == nil {
			return util.NewRuleError(pattern, "url", "malformed target url "+strconv.Quote(*doc.URL), nil)
		}
		rule.Scheme = m[1]
		rule.Host = m[2]
		rule.Path = m[5]
		rule.Port = defaultPort(rule.Scheme)
		if m[4] != "" {
			port, err := strconv.Atoi(m[4])
			if err != nil || port < 1 || port > 65535 {
				return util.NewRuleError(pattern, "url", "invalid port "+m[4], err)
			}
			rule.Port = port
		}

	case doc.Path != nil:
		if !strings.HasPrefix(*doc.Path, "/") {
			return util.NewRuleError(pattern, "path", "path must start with /", nil)
		}
		rule.Scheme = SchemeLocal
		rule.Host = "localhost"
		rule.Path = *doc.Path

	default:
		rule.Scheme = SchemeNull
	}

	if doc.Storage != nil {
		if doc.Path == nil {
			return util.NewRuleError(pattern, "storage", "storage rules require a path", nil)
		}
		rule.Scheme = SchemeStorage
		rule.Host = ""
		rule.StorageID = *doc.Storage
	}

	if rule.Path != "" {
		template, err := normalizeTemplate(rule.Path, rule.Regexp.NumSubexp())
		if err != nil {
			return util.NewRuleError(pattern, "path", "invalid capture reference", err)
		}
		rule.template = template
	}
	return nil
}

// applyPolicy applies numeric and boolean defaults and credentials.
func applyPolicy(rule *Rule, doc *ruleDocument) error {
	if doc.ConnectionPoolSize != nil {
		if *doc.ConnectionPoolSize < 1 {
			return util.NewRuleError(rule.Pattern, "connectionPoolSize", "must be at least 1", nil)
		}
		rule.PoolSize = *doc.ConnectionPoolSize
	}
	rule.KeepAlive = boolOr(doc.KeepAlive, DefaultKeepAlive)

	if doc.Timeout != nil {
		if *doc.Timeout <= 0 {
			return util.NewRuleError(rule.Pattern, "timeout", "must be positive", nil)
		}
		rule.Timeout = time.Duration(*doc.Timeout * float64(time.Second))
	}
	if doc.LogExpiry != nil {
		rule.LogExpiry = time.Duration(*doc.LogExpiry) * time.Second
	}
	if doc.MetricName != nil {
		rule.MetricName = *doc.MetricName
	}
	if doc.BasicAuth != nil {
		rule.Username = doc.BasicAuth.Username
		rule.Password = doc.BasicAuth.Password
	}
	return nil
}

// applyMaps compiles the ordered translateStatus and staticHeaders maps.
func applyMaps(rule *Rule, doc *ruleDocument) error {
	headers, err := orderedStrings(doc.StaticHeaders, "staticHeaders")
	if err != nil {
		return util.NewRuleError(rule.Pattern, "staticHeaders", "invalid static headers", err)
	}
	for _, kv := range headers {
		if kv[0] == "" {
			return util.NewRuleError(rule.Pattern, "staticHeaders", "empty header name", nil)
		}
		rule.StaticHeaders = append(rule.StaticHeaders, Header{Name: kv[0], Value: kv[1]})
	}

	translations, err := orderedStrings(doc.TranslateStatus, "translateStatus")
	if err != nil {
		return util.NewRuleError(rule.Pattern, "translateStatus", "invalid status translation", err)
	}
	for _, kv := range translations {
		re, err := regexp.Compile("^(?:" + kv[0] + ")$")
		if err != nil {
			return util.NewRuleError(rule.Pattern, "translateStatus",
				"invalid status pattern "+strconv.Quote(kv[0]), err)
		}
		status, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil || !validStatus(status) {
			return util.NewRuleError(rule.Pattern, "translateStatus",
				"invalid status code "+strconv.Quote(kv[1]), err)
		}
		rule.TranslateStatus = append(rule.TranslateStatus,
			StatusTranslation{Source: kv[0], Pattern: re, Status: status})
	}
	return nil
}

// normalizeTemplate rewrites $N references to ${N} so a digit following
// a reference is kept literal, escapes lone dollars, and checks every
// reference against the number of groups in the pattern. An unbraced
// reference takes further digits only while the number stays a valid
// group, so $12 with one group is group 1 followed by a literal 2.
func normalizeTemplate(template string, groups int) (string, error) {
	var err error
	out := groupRefPattern.ReplaceAllStringFunc(template, func(ref string) string {
		if ref == "$" || ref == "$$" {
			return "$$"
		}
		braced := strings.HasPrefix(ref, "${")
		digits := strings.Trim(ref, "${}")

		n, rest := 0, ""
		if braced {
			var convErr error
			if n, convErr = strconv.Atoi(digits); convErr != nil {
				n = groups + 1
			}
		} else {
			n = int(digits[0] - '0')
			i := 1
			for ; i < len(digits); i++ {
				next := n*10 + int(digits[i]-'0')
				if next > groups {
					break
				}
				n = next
			}
			rest = digits[i:]
		}

		if n > groups && err == nil {
			err = fmt.Errorf("%s references group %d but pattern has %d", ref, n, groups)
		}
		return "${" + strconv.Itoa(n) + "}" + rest
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func defaultPort(scheme string) int {
	if scheme == SchemeHTTPS {
		return 443
	}
	return 80
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
