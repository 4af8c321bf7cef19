package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSidecarName(t *testing.T) {
	stem := "The.Matrix.1999.1080p"

	info, ok := ParseSidecarName(stem, "The.Matrix.1999.1080p.srt")
	assert.True(t, ok)
	assert.Empty(t, info.Language)
	assert.False(t, info.Forced)

	info, ok = ParseSidecarName(stem, "The.Matrix.1999.1080p.en.srt")
	assert.True(t, ok)
	assert.Equal(t, "en", info.Language)

	info, ok = ParseSidecarName(stem, "The.Matrix.1999.1080p.eng.forced.ass")
	assert.True(t, ok)
	assert.Equal(t, "eng", info.Language)
	assert.True(t, info.Forced)

	info, ok = ParseSidecarName(stem, "The.Matrix.1999.1080p.en.sdh.srt")
	assert.True(t, ok)
	assert.True(t, info.SDH)

	// cc is an SDH alias.
	info, ok = ParseSidecarName(stem, "The.Matrix.1999.1080p.en.cc.srt")
	assert.True(t, ok)
	assert.True(t, info.SDH)

	// Case-insensitive stem match.
	_, ok = ParseSidecarName(stem, "the.matrix.1999.1080p.EN.srt")
	assert.True(t, ok)

	// Free-form parts become the track title, original casing kept.
	info, ok = ParseSidecarName(stem, "The.Matrix.1999.1080p.Director Commentary.en.srt")
	assert.True(t, ok)
	assert.Equal(t, "en", info.Language)
	assert.Equal(t, "Director Commentary", info.Title)

	// Multiple title parts join; flags and language are not swallowed.
	info, ok = ParseSidecarName(stem, "The.Matrix.1999.1080p.Signs.Songs.eng.forced.srt")
	assert.True(t, ok)
	assert.Equal(t, "eng", info.Language)
	assert.True(t, info.Forced)
	assert.Equal(t, "Signs Songs", info.Title)

	// A different movie's subtitle does not attach.
	_, ok = ParseSidecarName(stem, "Another.Movie.srt")
	assert.False(t, ok)
}
