package rules

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/vyrodovalexey/avaproxy/internal/util"
)

// propertyPattern matches ${name} where name does not start with a digit.
var propertyPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.\-]*)\}`)

// SubstituteProperties replaces ${name} references in the raw rules
// document with values from properties. Values are JSON string-escaped so
// they can appear inside string literals. Names starting with a digit are
// capture group references and are left alone. Any unresolved name fails
// the whole document.
func SubstituteProperties(doc string, properties map[string]string) (string, error) {
	var missing []string
	out := propertyPattern.ReplaceAllStringFunc(doc, func(ref string) string {
		name := ref[2 : len(ref)-1]
		value, ok := properties[name]
		if !ok {
			missing = append(missing, name)
			return ref
		}
		return escapeJSON(value)
	})

	if len(missing) > 0 {
		return "", util.NewConfigError("properties",
			"unresolved property reference: "+strings.Join(unique(missing), ", "))
	}
	return out, nil
}

func escapeJSON(value string) string {
	b, err := json.Marshal(value)
	if err != nil {
		return value
	}
	return string(b[1 : len(b)-1])
}

func unique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
