package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaproxy/internal/util"
)

func TestSubstituteProperties(t *testing.T) {
	t.Parallel()

	props := map[string]string{
		"host":   "api.local",
		"quoted": `a"b\c`,
		"a.b-c":  "dotted",
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single", input: `"http://${host}/x"`, expected: `"http://api.local/x"`},
		{name: "repeated", input: `${host}|${host}`, expected: `api.local|api.local`},
		{name: "escaped for json", input: `"${quoted}"`, expected: `"a\"b\\c"`},
		{name: "dotted name", input: `${a.b-c}`, expected: `dotted`},
		{name: "capture reference untouched", input: `/b/${1}`, expected: `/b/${1}`},
		{name: "no references", input: `{"^/a": {}}`, expected: `{"^/a": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := SubstituteProperties(tt.input, props)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSubstituteProperties_Unresolved(t *testing.T) {
	t.Parallel()

	_, err := SubstituteProperties(`${a} ${b} ${a}`, map[string]string{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrConfigInvalid))
	assert.Contains(t, err.Error(), "unresolved property reference: a, b")
}
