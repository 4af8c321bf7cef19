package scanner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/logger"
	"github.com/ferrite-media/ferrite/internal/mediafile"
)

// Text subtitle codecs that can be extracted from a container. Bitmap formats
// (pgs, dvdsub) are skipped.
var extractableSubtitleCodecs = map[string]bool{
	"subrip":   true,
	"srt":      true,
	"ass":      true,
	"ssa":      true,
	"webvtt":   true,
	"mov_text": true,
}

// SubtitleExtractor discovers sidecar subtitle files and extracts embedded
// text tracks into the subtitle cache.
type SubtitleExtractor struct {
	ffmpegPath string
	cacheDir   string
}

// NewSubtitleExtractor creates an extractor writing under cacheDir.
func NewSubtitleExtractor(ffmpegPath, cacheDir string) *SubtitleExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &SubtitleExtractor{ffmpegPath: ffmpegPath, cacheDir: cacheDir}
}

// SidecarInfo is the metadata deduced from a sidecar subtitle filename.
type SidecarInfo struct {
	Language string
	Title    string
	Forced   bool
	SDH      bool
}

// ParseSidecarName interprets the dotted suffix parts between a media stem
// and the subtitle extension: "Movie.en.forced.srt" next to "Movie.mkv"
// yields language "en" and forced=true. Recognized flags are forced, sdh
// and cc; 2- and 3-letter parts are treated as language codes; anything
// else becomes the track title ("Movie.Director Commentary.en.srt").
func ParseSidecarName(mediaStem, subtitleName string) (SidecarInfo, bool) {
	subStem := strings.TrimSuffix(subtitleName, filepath.Ext(subtitleName))
	if !strings.HasPrefix(strings.ToLower(subStem), strings.ToLower(mediaStem)) {
		return SidecarInfo{}, false
	}
	rest := strings.Trim(subStem[len(mediaStem):], ".")

	var info SidecarInfo
	var title []string
	for _, part := range strings.Split(rest, ".") {
		switch p := strings.ToLower(part); p {
		case "":
		case "forced":
			info.Forced = true
		case "sdh", "cc":
			info.SDH = true
		default:
			if len(p) == 2 || len(p) == 3 {
				info.Language = p
			} else {
				title = append(title, part)
			}
		}
	}
	info.Title = strings.Join(title, " ")
	return info, true
}

// ScanSidecars finds subtitle files next to a media file and upserts them
// as external subtitles. Runs inside the caller's transaction.
func (e *SubtitleExtractor) ScanSidecars(tx *gorm.DB, item *database.MediaItem) (int, error) {
	dir := filepath.Dir(item.Path)
	stem := strings.TrimSuffix(filepath.Base(item.Path), filepath.Ext(item.Path))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	found := 0
	for _, entry := range entries {
		if entry.IsDir() || !mediafile.IsSubtitleFile(entry.Name()) {
			continue
		}
		info, ok := ParseSidecarName(stem, entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		sub := &database.ExternalSubtitle{
			MediaItemID: item.ID,
			Path:        path,
			Format:      mediafile.SubtitleFormat(entry.Name()),
			Language:    info.Language,
			Title:       info.Title,
			Forced:      info.Forced,
			SDH:         info.SDH,
			Size:        fi.Size(),
		}
		if err := database.UpsertSubtitle(tx, sub); err != nil {
			return found, err
		}
		found++
	}
	return found, nil
}

// ExtractEmbedded pulls extractable text tracks out of the container into
// the subtitle cache and records them. Already-extracted tracks are skipped,
// so re-scans are cheap.
func (e *SubtitleExtractor) ExtractEmbedded(ctx context.Context, db *gorm.DB, item *database.MediaItem, streams []mediafile.Stream) (int, error) {
	stem := strings.TrimSuffix(filepath.Base(item.Path), filepath.Ext(item.Path))
	outDir := filepath.Join(e.cacheDir, strconv.FormatUint(uint64(item.ID), 10))

	extracted := 0
	for _, s := range streams {
		if s.Type != "subtitle" || !extractableSubtitleCodecs[s.Codec] {
			continue
		}

		ext, codecArg := "srt", "srt"
		if s.Codec == "ass" || s.Codec == "ssa" {
			ext, codecArg = s.Codec, "copy"
		}
		lang := s.Language
		if lang == "" {
			lang = "und"
		}
		outPath := filepath.Join(outDir, fmt.Sprintf("%s.embedded.%d.%s.%s", stem, s.Index, lang, ext))

		if fi, err := os.Stat(outPath); err == nil && fi.Size() > 0 {
			extracted++
			continue
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return extracted, err
		}

		cmd := exec.CommandContext(ctx, e.ffmpegPath,
			"-y",
			"-i", item.Path,
			"-map", fmt.Sprintf("0:%d", s.Index),
			"-c:s", codecArg,
			outPath,
		)
		if err := cmd.Run(); err != nil {
			logger.Warn("embedded subtitle extraction failed",
				"path", item.Path, "stream", s.Index, "error", err)
			os.Remove(outPath)
			continue
		}
		fi, err := os.Stat(outPath)
		if err != nil || fi.Size() == 0 {
			// ffmpeg exits zero on empty tracks; drop the husk.
			os.Remove(outPath)
			continue
		}

		sub := &database.ExternalSubtitle{
			MediaItemID: item.ID,
			Path:        outPath,
			Format:      ext,
			Language:    s.Language,
			Title:       s.Title,
			Forced:      s.Forced,
			Size:        fi.Size(),
			Embedded:    true,
		}
		if err := database.UpsertSubtitle(db, sub); err != nil {
			return extracted, err
		}
		extracted++
	}
	return extracted, nil
}
