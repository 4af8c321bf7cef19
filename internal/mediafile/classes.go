// Package mediafile wraps the external inspector (ffprobe): probing files
// into normalized stream/format records and locating keyframes for seeks.
package mediafile

import (
	"path/filepath"
	"strings"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mkv": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true, ".ts": true, ".m2ts": true,
	".mpg": true, ".mpeg": true, ".ogv": true, ".3gp": true,
}

var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".m4a": true, ".aac": true, ".ogg": true,
	".opus": true, ".wav": true, ".wma": true, ".aiff": true, ".ape": true,
	".wv": true,
}

var subtitleExtensions = map[string]bool{
	".srt": true, ".ass": true, ".ssa": true, ".vtt": true, ".sub": true,
	".smi": true,
}

// MatchesKind reports whether the file extension belongs to the media class
// scanned for the given library kind.
func MatchesKind(path, kind string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch kind {
	case "music":
		return audioExtensions[ext]
	default:
		return videoExtensions[ext]
	}
}

// IsSubtitleFile reports whether the path looks like a sidecar subtitle.
func IsSubtitleFile(path string) bool {
	return subtitleExtensions[strings.ToLower(filepath.Ext(path))]
}

// SubtitleFormat returns the normalized subtitle format for a path.
func SubtitleFormat(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
