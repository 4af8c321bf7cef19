package playbackmodule

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLadderFor(t *testing.T) {
	// 1080p source: native tier is on the ladder already.
	assert.Equal(t, []int{1080, 720, 480, 360}, LadderFor(1080))

	// 4K source gets the full ladder.
	assert.Equal(t, []int{2160, 1080, 720, 480, 360}, LadderFor(2160))

	// 1440p source is off-ladder: a synthetic native tier leads.
	assert.Equal(t, []int{1440, 1080, 720, 480, 360}, LadderFor(1440))

	// SD source never upscales.
	assert.Equal(t, []int{480, 360}, LadderFor(480))

	// Unknown height: single passthrough tier.
	assert.Equal(t, []int{0}, LadderFor(0))
}

func TestBuildMasterPlaylist(t *testing.T) {
	m := BuildMasterPlaylist(1920, 1080, []int{1080, 720})
	assert.True(t, strings.HasPrefix(m, "#EXTM3U\n"))
	assert.Contains(t, m, "RESOLUTION=1920x1080")
	assert.Contains(t, m, "RESOLUTION=1280x720")
	assert.Contains(t, m, `NAME="1080p"`)
	assert.Contains(t, m, `NAME="720p"`)
	assert.Contains(t, m, "1080/playlist.m3u8")
	assert.Contains(t, m, "720/playlist.m3u8")

	// Higher tiers advertise higher bandwidth.
	assert.Less(t, strings.Index(m, "BANDWIDTH=6192000"), strings.Index(m, "BANDWIDTH=3692000"))
}

func TestRewriteVariantPlaylist(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:7",
		"#EXT-X-TARGETDURATION:2",
		`#EXT-X-MAP:URI="init.mp4"`,
		"#EXTINF:2.000000,",
		"seg_000.m4s",
		"#EXTINF:2.000000,",
		"seg_001.m4s",
		"",
	}, "\n")

	out := RewriteVariantPlaylist(playlist, "/api/playback/hls/abc123/720/", "")
	assert.Contains(t, out, `#EXT-X-MAP:URI="/api/playback/hls/abc123/720/init.mp4"`)
	assert.Contains(t, out, "/api/playback/hls/abc123/720/seg_000.m4s")
	assert.Contains(t, out, "/api/playback/hls/abc123/720/seg_001.m4s")
	// Tags other than EXT-X-MAP stay untouched.
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:2\n")
	// Rewriting is idempotent on tag lines and touches every URI exactly once.
	assert.NotContains(t, out, "720//")
}

func TestRewriteVariantPlaylistCarriesQuery(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		`#EXT-X-MAP:URI="init.mp4"`,
		"#EXTINF:2.000000,",
		"seg_000.m4s",
	}, "\n")

	out := RewriteVariantPlaylist(playlist, "/api/playback/hls/abc123/720", "token=xyz&playback_session=p1")
	// Every rewritten URI keeps the caller's auth query, the map included.
	assert.Contains(t, out, `#EXT-X-MAP:URI="/api/playback/hls/abc123/720/init.mp4?token=xyz&playback_session=p1"`)
	assert.Contains(t, out, "/api/playback/hls/abc123/720/seg_000.m4s?token=xyz&playback_session=p1")
	// Tag lines never grow a query string.
	assert.NotContains(t, out, "#EXTM3U?")
}

func TestSegmentListed(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		`#EXT-X-MAP:URI="init.mp4"`,
		"#EXTINF:2.000000,",
		"seg_000.m4s",
	}, "\n")

	assert.True(t, SegmentListed(playlist, "seg_000.m4s"))
	// On disk but not yet in the playlist means still being written.
	assert.False(t, SegmentListed(playlist, "seg_001.m4s"))
	// Name mentioned without a preceding EXTINF does not count.
	assert.False(t, SegmentListed("seg_000.m4s", "seg_000.m4s"))
}

func TestVariantResolution(t *testing.T) {
	w, h := variantResolution(1920, 1080, 720)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	// 2.39:1 scope source keeps its aspect and even width.
	w, h = variantResolution(1920, 800, 480)
	assert.Equal(t, 480, h)
	assert.Zero(t, w%2)

	// Native tier passes through.
	w, h = variantResolution(1920, 1080, 1080)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}
