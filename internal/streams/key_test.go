package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCanonicalForms(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare type", "transcription", "transcription"},
		{"upper base", "TRANSCRIPTION", "transcription"},
		{"language lower region", "transcription:en-us", "transcription:en-US"},
		{"language upper everything", "transcription:EN-US", "transcription:en-US"},
		{"translation", "translation:es-es-to-en-us", "translation:es-ES-to-en-US"},
		{"gesture", "touch_event:Triple_Tap", "touch_event:triple_tap"},
		{"wildcard star", "*", "*"},
		{"wildcard all", "ALL", "all"},
		{"location", "location_stream", "location_stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, key.String())
		})
	}
}

func TestParseEquivalentSpellingsCompareEqual(t *testing.T) {
	a, err := Parse("transcription:en-US")
	require.NoError(t, err)
	b, err := Parse("TRANSCRIPTION:EN-us")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseRejectsInvalid(t *testing.T) {
	invalid := []string{
		"",
		"bogus_stream",
		"transcription:",
		"translation:en-US", // missing target
		"vad:qualified",     // vad takes no qualifier
		"touch_event:",
	}
	for _, in := range invalid {
		_, err := Parse(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestParseListDeduplicates(t *testing.T) {
	keys, err := ParseList([]string{
		"transcription:en-US",
		"transcription:EN-us",
		"vad",
		"vad",
	})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "transcription:en-US", keys[0].String())
	assert.Equal(t, "vad", keys[1].String())
}

func TestMatches(t *testing.T) {
	en := mustParse(t, "transcription:en-US")
	fr := mustParse(t, "transcription:fr-FR")
	base := mustParse(t, "transcription")
	tripleTap := mustParse(t, "touch_event:triple_tap")
	singleTap := mustParse(t, "touch_event:single_tap")
	touchBase := mustParse(t, "touch_event")

	// Language-qualified key matches iff base type and language tuple match.
	assert.True(t, en.Matches(en))
	assert.False(t, en.Matches(fr))
	assert.True(t, base.Matches(en))
	assert.True(t, base.Matches(fr))
	assert.False(t, en.Matches(base))

	// Gesture-qualified keys behave the same way.
	assert.True(t, tripleTap.Matches(tripleTap))
	assert.False(t, singleTap.Matches(tripleTap))
	assert.True(t, touchBase.Matches(tripleTap))

	// Cross-type never matches.
	assert.False(t, en.Matches(tripleTap))
}

func TestWildcards(t *testing.T) {
	all := mustParse(t, "all")
	star := mustParse(t, "*")

	assert.True(t, all.IsWildcard())
	assert.True(t, star.IsWildcard())
	assert.NotEqual(t, all, star, "ALL and WILDCARD are distinct keys")
}

func mustParse(t *testing.T, s string) Key {
	t.Helper()
	key, err := Parse(s)
	require.NoError(t, err)
	return key
}
