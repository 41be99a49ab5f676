package rules

import (
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// TranslateHeaderPrefix prefixes request headers that ask for a status
// translation, for example "x-translate-status-4xx: 200".
const TranslateHeaderPrefix = "X-Translate-Status-"

// StatusTranslation maps backend statuses matching Pattern to Status.
type StatusTranslation struct {
	Source  string
	Pattern *regexp.Regexp
	Status  int
}

// Matches reports whether the backend status matches the translation.
func (t StatusTranslation) Matches(status int) bool {
	return t.Pattern.MatchString(strconv.Itoa(status))
}

// statusClass is a status pattern such as "4xx" or "50x".
type statusClass struct {
	class string
	value string
}

func (c statusClass) matches(status string) bool {
	if len(status) != len(c.class) {
		return false
	}
	for i := 0; i < len(c.class); i++ {
		if c.class[i] != 'x' && c.class[i] != status[i] {
			return false
		}
	}
	return true
}

// wildcards counts the x positions; fewer is more specific.
func (c statusClass) wildcards() int {
	return strings.Count(c.class, "x")
}

// TranslateByHeaders applies request header translations to status.
// When several classes match, the most specific one wins. An empty or
// invalid header value translates to 200.
func TranslateByHeaders(h http.Header, status int) int {
	var classes []statusClass
	for name, values := range h {
		if len(name) <= len(TranslateHeaderPrefix) ||
			!strings.EqualFold(name[:len(TranslateHeaderPrefix)], TranslateHeaderPrefix) {
			continue
		}
		class := strings.ToLower(name[len(TranslateHeaderPrefix):])
		if !validClass(class) {
			continue
		}
		value := ""
		if len(values) > 0 {
			value = values[0]
		}
		classes = append(classes, statusClass{class: class, value: value})
	}
	if len(classes) == 0 {
		return status
	}

	sort.Slice(classes, func(i, j int) bool {
		if wi, wj := classes[i].wildcards(), classes[j].wildcards(); wi != wj {
			return wi < wj
		}
		return classes[i].class < classes[j].class
	})

	code := strconv.Itoa(status)
	for _, c := range classes {
		if !c.matches(code) {
			continue
		}
		translated, err := strconv.Atoi(strings.TrimSpace(c.value))
		if err != nil || !validStatus(translated) {
			return http.StatusOK
		}
		return translated
	}
	return status
}

func validClass(class string) bool {
	if len(class) != 3 {
		return false
	}
	for i := 0; i < len(class); i++ {
		if class[i] != 'x' && (class[i] < '0' || class[i] > '9') {
			return false
		}
	}
	return true
}

func validStatus(code int) bool {
	return code >= 100 && code <= 599
}
