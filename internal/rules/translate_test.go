package rules

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateByHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		header   http.Header
		status   int
		expected int
	}{
		{name: "no headers", header: http.Header{}, status: 404, expected: 404},
		{name: "class match", header: http.Header{"X-Translate-Status-4xx": {"299"}}, status: 404, expected: 299},
		{name: "exact match", header: http.Header{"X-Translate-Status-404": {"204"}}, status: 404, expected: 204},
		{name: "partial class", header: http.Header{"X-Translate-Status-50x": {"503"}}, status: 502, expected: 503},
		{name: "no match", header: http.Header{"X-Translate-Status-5xx": {"200"}}, status: 404, expected: 404},
		{name: "empty value", header: http.Header{"X-Translate-Status-4xx": {""}}, status: 404, expected: 200},
		{name: "invalid value", header: http.Header{"X-Translate-Status-4xx": {"nope"}}, status: 404, expected: 200},
		{name: "out of range value", header: http.Header{"X-Translate-Status-4xx": {"999"}}, status: 404, expected: 200},
		{name: "malformed class ignored", header: http.Header{"X-Translate-Status-4x": {"200"}}, status: 404, expected: 404},
		{name: "uppercase class", header: http.Header{"X-Translate-Status-4XX": {"201"}}, status: 404, expected: 201},
		{
			name: "most specific wins",
			header: http.Header{
				"X-Translate-Status-4xx": {"400"},
				"X-Translate-Status-40x": {"401"},
				"X-Translate-Status-404": {"204"},
			},
			status:   404,
			expected: 204,
		},
		{name: "unrelated header", header: http.Header{"X-Translate": {"200"}}, status: 500, expected: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, TranslateByHeaders(tt.header, tt.status))
		})
	}
}

func TestStatusTranslation_Matches(t *testing.T) {
	t.Parallel()

	rule := compileOne(t, `{"^/": {"path": "/", "translateStatus": {"50[23]": "503"}}}`)
	tr := rule.TranslateStatus[0]

	assert.True(t, tr.Matches(502))
	assert.True(t, tr.Matches(503))
	assert.False(t, tr.Matches(504))
	assert.False(t, tr.Matches(5020))
}
