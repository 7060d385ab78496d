package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
rules:
  - id: IL-AI-4.2
    title: SSN detector
    action: block
    pattern: '\b\d{3}-\d{2}-\d{4}\b'
    applies_to: [outbound]
  - id: LEN-1.0
    action: flag
    max_chars: 100
  - id: API-1.0
    action: block
    pattern: '(?i)api[_-]?key'
`

func TestParseValidDocument(t *testing.T) {
	set, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())

	ssn := set.Rules[0]
	assert.Equal(t, "IL-AI-4.2", ssn.ID)
	assert.Equal(t, ActionBlock, ssn.Action)
	assert.Equal(t, 1, ssn.MinCount, "min_count defaults to 1")
	assert.Equal(t, []Direction{DirectionOutbound}, ssn.AppliesTo)

	assert.Equal(t, 100, set.Rules[1].MaxChars)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		rule  string
		field string
	}{
		{
			name:  "duplicate id",
			doc:   "rules:\n  - {id: A-1.0, action: block, pattern: x}\n  - {id: A-1.0, action: flag, pattern: y}\n",
			rule:  "A-1.0",
			field: "id",
		},
		{
			name:  "bad regex",
			doc:   "rules:\n  - {id: B-1.0, action: block, pattern: '(' }\n",
			rule:  "B-1.0",
			field: "pattern",
		},
		{
			name:  "no condition",
			doc:   "rules:\n  - {id: C-1.0, action: flag}\n",
			rule:  "C-1.0",
			field: "pattern",
		},
		{
			name:  "bad action",
			doc:   "rules:\n  - {id: D-1.0, action: reject, pattern: x}\n",
			rule:  "D-1.0",
			field: "action",
		},
		{
			name:  "bad direction",
			doc:   "rules:\n  - {id: E-1.0, action: flag, pattern: x, applies_to: [sideways]}\n",
			rule:  "E-1.0",
			field: "applies_to",
		},
		{
			name:  "bad shadow override",
			doc:   "rules:\n  - {id: F-1.0, action: flag, pattern: x, shadow_override: maybe}\n",
			rule:  "F-1.0",
			field: "shadow_override",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			var loadErr *RuleLoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, tt.rule, loadErr.RuleID)
			assert.Equal(t, tt.field, loadErr.Field)
		})
	}
}

func TestParseRejectsWholeDocument(t *testing.T) {
	doc := "rules:\n  - {id: OK-1.0, action: block, pattern: x}\n  - {id: BAD-1.0, action: block, pattern: '('}\n"
	set, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Nil(t, set, "no partial loads")
}

func TestUnknownKeysRetained(t *testing.T) {
	doc := "rules:\n  - id: X-1.0\n    action: flag\n    pattern: x\n    future_field: hello\n"
	set, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, "hello", set.Rules[0].Extras["future_field"])
	assert.NotContains(t, set.Rules[0].Extras, "id")
}

func TestSerializeRoundTrip(t *testing.T) {
	first, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	out, err := first.Serialize()
	require.NoError(t, err)

	second, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, first.Len(), second.Len())
	for i := range first.Rules {
		assert.Equal(t, first.Rules[i].ID, second.Rules[i].ID)
		assert.Equal(t, first.Rules[i].Action, second.Rules[i].Action)
		assert.Equal(t, first.Rules[i].Pattern, second.Rules[i].Pattern)
		assert.Equal(t, first.Rules[i].MinCount, second.Rules[i].MinCount)
		assert.Equal(t, first.Rules[i].MaxChars, second.Rules[i].MaxChars)
	}
}

func TestPatternCount(t *testing.T) {
	set, err := Parse([]byte("rules:\n  - {id: N-1.0, action: flag, pattern: 'ab', min_count: 2}\n"))
	require.NoError(t, err)
	r := &set.Rules[0]

	assert.Equal(t, 0, r.PatternCount("xyz", -1))
	assert.Equal(t, 1, r.PatternCount("ab", -1))
	assert.Equal(t, 2, r.PatternCount("ab ab", -1))
	// Non-overlapping: "aaa" has one "aa" match, not two.
	set2, err := Parse([]byte("rules:\n  - {id: O-1.0, action: flag, pattern: 'aa'}\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, set2.Rules[0].PatternCount("aaa", -1))
}
