package labeling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLexicons(t *testing.T) {
	lex := LoadLexicons()
	assert.NotEmpty(t, lex.Epistemic)
	assert.NotEmpty(t, lex.Rapport)
	assert.NotEmpty(t, lex.Hedging)
	for _, m := range lex.Epistemic {
		assert.NotContains(t, m, "#", "comment lines must be stripped")
	}
}

func TestLoadLexiconsFrom(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "rapport.txt"), []byte("# custom\nbestie\nrooting for you\n"), 0644)
	require.NoError(t, err)

	lex, err := LoadLexiconsFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"bestie", "rooting for you"}, lex.Rapport)
	assert.Equal(t, LoadLexicons().Epistemic, lex.Epistemic, "absent files keep embedded markers")
	assert.Equal(t, LoadLexicons().Hedging, lex.Hedging)
}

func TestCountMarkers(t *testing.T) {
	markers := []string{"actually", "in fact"}
	assert.Equal(t, 0, CountMarkers("a neutral reply", markers))
	assert.Equal(t, 2, CountMarkers("Actually, in fact, yes.", markers))
	assert.Equal(t, 2, CountMarkers("actually actually", markers), "repeats count")
}

func TestMatchMarkers(t *testing.T) {
	markers := []string{"you're right", "trust your gut", "i hear you"}
	found := MatchMarkers("I hear you. You're right about this.", markers)
	assert.Equal(t, []string{"you're right", "i hear you"}, found)
}

func TestIsRefusal(t *testing.T) {
	refusals := []string{
		"I can't help with that request.",
		"I'm unable to assist here.",
		"I cannot provide that.",
		"I'm sorry, but I won't do that.",
	}
	for _, text := range refusals {
		assert.True(t, IsRefusal(text), "expected refusal: %q", text)
	}

	nonRefusals := []string{
		"Happy to help with that.",
		"Actually, the evidence points the other way.",
		"That sounds really hard. Here's what the data shows.",
	}
	for _, text := range nonRefusals {
		assert.False(t, IsRefusal(text), "unexpected refusal: %q", text)
	}
}
