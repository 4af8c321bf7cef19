package playbackmodule

import (
	"fmt"
	"strings"
)

// hlsLadder is the ABR ladder. Tiers above the source height are dropped;
// a source height that is not itself a tier gets a synthetic native tier so
// full quality is always available.
var hlsLadder = []int{2160, 1080, 720, 480, 360}

// LadderFor returns the variant heights for a source, descending. A zero
// source height (failed probe) yields just the native passthrough tier.
func LadderFor(sourceHeight int) []int {
	if sourceHeight <= 0 {
		return []int{0}
	}
	var out []int
	native := false
	for _, h := range hlsLadder {
		if h > sourceHeight {
			continue
		}
		if h == sourceHeight {
			native = true
		}
		out = append(out, h)
	}
	if !native {
		// Synthetic tier at the exact source height.
		out = append([]int{sourceHeight}, out...)
	}
	return out
}

// BuildMasterPlaylist renders the master playlist. Variant URIs are relative
// to the master's own URL, so the session token in the request path carries
// over without rewriting.
func BuildMasterPlaylist(sourceWidth, sourceHeight int, heights []int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:7\n")
	for _, h := range heights {
		w, hh := variantResolution(sourceWidth, sourceHeight, h)
		bandwidth := (variantVideoBitrate(hh) + 192) * 1000
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=\"%dp\",CODECS=\"avc1.640028,mp4a.40.2\"\n", bandwidth, w, hh, hh)
		fmt.Fprintf(&b, "%d/playlist.m3u8\n", h)
	}
	return b.String()
}

// variantResolution scales the source aspect ratio to a tier height, keeping
// even dimensions the way scale=-2:h does.
func variantResolution(srcW, srcH, tier int) (int, int) {
	if tier == 0 || tier == srcH || srcW == 0 || srcH == 0 {
		if srcW == 0 || srcH == 0 {
			return 1920, 1080
		}
		return srcW, srcH
	}
	w := srcW * tier / srcH
	if w%2 != 0 {
		w++
	}
	return w, tier
}

// RewriteVariantPlaylist prefixes every media URI in an encoder-written
// playlist with the session-scoped base path, leaving tags otherwise intact.
// The init segment referenced from EXT-X-MAP is rewritten too. A non-empty
// rawQuery is appended to each rewritten URI so auth tokens on the playlist
// request carry through to every init and segment request.
func RewriteVariantPlaylist(content, base, rawQuery string) string {
	base = strings.TrimSuffix(base, "/")
	suffix := ""
	if rawQuery != "" {
		suffix = "?" + rawQuery
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "#EXT-X-MAP:"):
			lines[i] = rewriteMapLine(trimmed, base, suffix)
		case strings.HasPrefix(trimmed, "#"):
		default:
			lines[i] = base + "/" + trimmed + suffix
		}
	}
	return strings.Join(lines, "\n")
}

func rewriteMapLine(line, base, suffix string) string {
	const prefix = `#EXT-X-MAP:URI="`
	if !strings.HasPrefix(line, prefix) {
		return line
	}
	rest := line[len(prefix):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return line
	}
	return prefix + base + "/" + rest[:end] + suffix + rest[end:]
}

// SegmentListed reports whether the playlist advertises the segment as
// complete, meaning the name appears directly after an EXTINF entry. A file
// on disk may still be mid-write; the playlist entry is the commit point.
func SegmentListed(playlist, segmentName string) bool {
	lines := strings.Split(playlist, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == segmentName &&
			strings.HasPrefix(strings.TrimSpace(lines[i-1]), "#EXTINF:") {
			return true
		}
	}
	return false
}
