package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/logger"
	"github.com/ferrite-media/ferrite/internal/mediafile"
)

// writeBatchSize bounds how many probed files are flushed per transaction.
const writeBatchSize = 200

// EnrichFunc is invoked after the catalog write so the metadata layer can
// fill in remote details for the library's new items.
type EnrichFunc func(ctx context.Context, libraryID uint, state *ScanState)

// Scanner drives the scan pipeline for one server: walk, probe, write,
// subtitles, enrich, cleanup.
type Scanner struct {
	db        *gorm.DB
	prober    *mediafile.Prober
	extractor *SubtitleExtractor
	throttler *Throttler
	registry  *Registry
	log       hclogLogger

	concurrentProbes int64
	enrich           EnrichFunc
}

// hclogLogger is the minimal logging surface the scanner needs.
type hclogLogger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NewScanner wires the scan pipeline.
func NewScanner(db *gorm.DB, prober *mediafile.Prober, extractor *SubtitleExtractor, throttler *Throttler, registry *Registry, concurrentProbes int, enrich EnrichFunc) *Scanner {
	if concurrentProbes < 1 {
		concurrentProbes = 1
	}
	return &Scanner{
		db:               db,
		prober:           prober,
		extractor:        extractor,
		throttler:        throttler,
		registry:         registry,
		log:              logger.Named("scanner"),
		concurrentProbes: int64(concurrentProbes),
		enrich:           enrich,
	}
}

// Registry exposes the progress registry for status endpoints.
func (s *Scanner) Registry() *Registry { return s.registry }

type probedFile struct {
	entry FileEntry
	probe *mediafile.ProbeResult
}

// Scan runs a full scan of the library. Returns an error if a scan is
// already running for it.
func (s *Scanner) Scan(ctx context.Context, library *database.Library) (*ScanState, error) {
	state := s.registry.TryStart(library.ID)
	if state == nil {
		return nil, fmt.Errorf("scan already running for library %d", library.ID)
	}
	if err := s.run(ctx, library, state, nil); err != nil {
		state.SetPhase(PhaseFailed)
		return state, err
	}
	return state, nil
}

// ScanPaths runs an incremental scan limited to the given paths, typically
// handed over by the filesystem watcher. Paths that vanished are removed
// from the catalog; everything else is re-probed in place.
func (s *Scanner) ScanPaths(ctx context.Context, library *database.Library, paths []string) (*ScanState, error) {
	state := s.registry.TryStart(library.ID)
	if state == nil {
		return nil, fmt.Errorf("scan already running for library %d", library.ID)
	}
	if err := s.run(ctx, library, state, paths); err != nil {
		state.SetPhase(PhaseFailed)
		return state, err
	}
	return state, nil
}

func (s *Scanner) run(ctx context.Context, library *database.Library, state *ScanState, only []string) error {
	started := time.Now()
	s.log.Info("scan started", "library", library.ID, "path", library.Path, "incremental", only != nil)

	// Walk.
	state.SetPhase(PhaseWalking)
	entries, err := s.collect(library, only)
	if err != nil {
		return fmt.Errorf("walk failed: %w", err)
	}
	state.TotalFiles.Store(int64(len(entries)))

	// Probe, bounded.
	state.SetPhase(PhaseProbing)
	probed, err := s.probeAll(ctx, entries, state)
	if err != nil {
		return err
	}

	// Write.
	state.SetPhase(PhaseWriting)
	written, err := s.writeAll(library, probed, state)
	if err != nil {
		return fmt.Errorf("catalog write failed: %w", err)
	}

	// Subtitles.
	state.SetPhase(PhaseSubtitles)
	s.extractSubtitles(ctx, written, state)

	// Enrich.
	if s.enrich != nil {
		state.SetPhase(PhaseEnriching)
		s.enrich(ctx, library.ID, state)
	}

	// Cleanup. Incremental scans only prune the paths they were told about;
	// full scans prune everything under the root that was not seen.
	state.SetPhase(PhaseCleanup)
	if err := s.cleanup(library, entries, only); err != nil {
		s.log.Warn("scan cleanup failed", "library", library.ID, "error", err)
	}

	now := time.Now()
	if err := s.db.Model(&database.Library{}).Where("id = ?", library.ID).
		Update("last_scanned_at", &now).Error; err != nil {
		s.log.Warn("failed to stamp library scan time", "library", library.ID, "error", err)
	}

	state.SetPhase(PhaseComplete)
	s.log.Info("scan complete",
		"library", library.ID,
		"files", len(entries),
		"errors", state.Errors.Load(),
		"took", time.Since(started).Round(time.Millisecond))
	return nil
}

func (s *Scanner) collect(library *database.Library, only []string) ([]FileEntry, error) {
	if only == nil {
		return Walk(library.Path, library.Kind)
	}
	var out []FileEntry
	for _, p := range only {
		if !mediafile.MatchesKind(p, library.Kind) {
			continue
		}
		if fi, err := statFile(p); err == nil {
			out = append(out, FileEntry{Path: p, Size: fi})
		}
	}
	return out, nil
}

func (s *Scanner) probeAll(ctx context.Context, entries []FileEntry, state *ScanState) ([]probedFile, error) {
	sem := semaphore.NewWeighted(s.concurrentProbes)
	results := make([]probedFile, len(entries))

	var wg sync.WaitGroup
	for i, entry := range entries {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(i int, entry FileEntry) {
			defer sem.Release(1)
			defer wg.Done()

			s.throttler.Wait(ctx)
			state.SetCurrentItem(entry.Path)
			res := s.prober.Probe(ctx, entry.Path)
			if res.Container == "" {
				state.Errors.Add(1)
			}
			results[i] = probedFile{entry: entry, probe: res}
			state.FilesProbed.Add(1)
		}(i, entry)
	}
	wg.Wait()
	return results, nil
}

// writtenItem pairs a persisted media item with its probe snapshot for the
// subtitle phase.
type writtenItem struct {
	item  database.MediaItem
	probe *mediafile.ProbeResult
}

func (s *Scanner) writeAll(library *database.Library, probed []probedFile, state *ScanState) ([]writtenItem, error) {
	var written []writtenItem
	for start := 0; start < len(probed); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(probed) {
			end = len(probed)
		}
		batch := probed[start:end]

		err := s.db.Transaction(func(tx *gorm.DB) error {
			for _, pf := range batch {
				item, err := s.writeOne(tx, library, pf)
				if err != nil {
					return fmt.Errorf("write %s: %w", pf.entry.Path, err)
				}
				written = append(written, writtenItem{item: *item, probe: pf.probe})
				state.FilesInserted.Add(1)
			}
			return nil
		})
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (s *Scanner) writeOne(tx *gorm.DB, library *database.Library, pf probedFile) (*database.MediaItem, error) {
	stem := strings.TrimSuffix(filepath.Base(pf.entry.Path), filepath.Ext(pf.entry.Path))
	parsed := ParseFilename(stem)

	item := &database.MediaItem{
		LibraryID: library.ID,
		Path:      pf.entry.Path,
		Size:      pf.entry.Size,
		Title:     parsed.Title,
		Year:      parsed.Year,
	}

	switch library.Kind {
	case database.LibraryKindMusic:
		item.Kind = database.MediaKindTrack
		if tags, ok := ReadTrackTags(pf.entry.Path); ok {
			item.Title = tags.Title
			item.Year = tags.Year
		}
	case database.LibraryKindTV:
		if parsed.IsEpisode {
			item.Kind = database.MediaKindEpisode
		} else {
			item.Kind = database.MediaKindMovie
		}
	default:
		item.Kind = database.MediaKindMovie
	}

	if pf.probe.Container != "" {
		item.Container = pf.probe.Container
		item.DurationMs = pf.probe.DurationMs
		item.BitrateKbps = pf.probe.BitrateKbps
		item.Width = pf.probe.Width
		item.Height = pf.probe.Height
		item.VideoCodec = pf.probe.VideoCodec
		item.AudioCodec = pf.probe.AudioCodec
		if len(pf.probe.Chapters) > 0 {
			if data, err := json.Marshal(pf.probe.Chapters); err == nil {
				item.Chapters = string(data)
			}
		}
	}

	if err := database.UpsertMediaItem(tx, item); err != nil {
		return nil, err
	}
	if pf.probe.Container != "" {
		if err := database.ReplaceStreams(tx, item.ID, toStreams(pf.probe.Streams)); err != nil {
			return nil, err
		}
	}

	switch item.Kind {
	case database.MediaKindEpisode:
		if err := s.linkEpisode(tx, library.ID, item.ID, parsed); err != nil {
			return nil, err
		}
	case database.MediaKindMovie:
		if err := database.UpsertMovieSkeleton(tx, item.ID, parsed.Title, parsed.Year); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// linkEpisode places a media item into the show/season/episode hierarchy,
// matching shows by normalized title within the library.
func (s *Scanner) linkEpisode(tx *gorm.DB, libraryID, mediaItemID uint, parsed ParsedName) error {
	normalized := NormalizeTitle(parsed.Show)
	if normalized == "" {
		normalized = "unknown"
	}

	var show database.Show
	err := tx.Where("library_id = ? AND normalized_title = ?", libraryID, normalized).First(&show).Error
	if err == gorm.ErrRecordNotFound {
		title, year := StripTrailingYear(parsed.Show)
		show = database.Show{
			LibraryID:       libraryID,
			Title:           title,
			NormalizedTitle: normalized,
			Year:            year,
		}
		err = tx.Create(&show).Error
	}
	if err != nil {
		return err
	}

	var season database.Season
	err = tx.Where("show_id = ? AND number = ?", show.ID, parsed.Season).First(&season).Error
	if err == gorm.ErrRecordNotFound {
		season = database.Season{ShowID: show.ID, Number: parsed.Season}
		err = tx.Create(&season).Error
	}
	if err != nil {
		return err
	}

	var episode database.Episode
	err = tx.Where("media_item_id = ?", mediaItemID).First(&episode).Error
	if err == gorm.ErrRecordNotFound {
		return tx.Create(&database.Episode{
			SeasonID:    season.ID,
			ShowID:      show.ID,
			MediaItemID: mediaItemID,
			Number:      parsed.Episode,
		}).Error
	}
	if err != nil {
		return err
	}
	// A renamed file may have moved to another slot.
	episode.SeasonID = season.ID
	episode.ShowID = show.ID
	episode.Number = parsed.Episode
	return tx.Save(&episode).Error
}

func (s *Scanner) extractSubtitles(ctx context.Context, written []writtenItem, state *ScanState) {
	for i := range written {
		w := &written[i]
		if w.item.Kind == database.MediaKindTrack {
			continue
		}
		state.SetCurrentItem(w.item.Path)

		err := s.db.Transaction(func(tx *gorm.DB) error {
			n, err := s.extractor.ScanSidecars(tx, &w.item)
			state.SubtitlesExtracted.Add(int64(n))
			return err
		})
		if err != nil {
			s.log.Warn("sidecar scan failed", "path", w.item.Path, "error", err)
			state.Errors.Add(1)
		}

		if w.probe != nil && len(w.probe.SubtitleStreams()) > 0 {
			n, err := s.extractor.ExtractEmbedded(ctx, s.db, &w.item, w.probe.Streams)
			state.SubtitlesExtracted.Add(int64(n))
			if err != nil {
				s.log.Warn("embedded extraction failed", "path", w.item.Path, "error", err)
				state.Errors.Add(1)
			}
		}
	}
}

// cleanup removes catalog rows for files that no longer exist, then prunes
// empty seasons and shows.
func (s *Scanner) cleanup(library *database.Library, seen []FileEntry, only []string) error {
	seenPaths := make(map[string]bool, len(seen))
	for _, e := range seen {
		seenPaths[e.Path] = true
	}

	var stale []database.MediaItem
	q := s.db.Where("library_id = ?", library.ID)
	if only != nil {
		// A changed path may be a file or a deleted directory, so match rows
		// exactly and by directory prefix.
		cond := s.db.Where("path IN ?", only)
		for _, p := range only {
			cond = cond.Or("path LIKE ?", strings.TrimSuffix(p, "/")+"/%")
		}
		q = q.Where(cond)
	}
	if err := q.Find(&stale).Error; err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, item := range stale {
			if seenPaths[item.Path] {
				continue
			}
			if only == nil {
				// Full scan: anything under the root we did not see is gone.
				if !strings.HasPrefix(item.Path, library.Path) {
					continue
				}
			} else if _, err := statFile(item.Path); err == nil {
				// Changed-path batch: rows whose file survives stay.
				continue
			}
			if err := deleteMediaItem(tx, item.ID); err != nil {
				return err
			}
			s.log.Info("removed vanished media item", "path", item.Path)
		}
		return database.DeleteEmptySeasonsAndShows(tx, library.ID)
	})
}

func deleteMediaItem(tx *gorm.DB, itemID uint) error {
	for _, model := range []interface{}{
		&database.Episode{}, &database.Movie{}, &database.PlaybackProgress{},
		&database.MediaStream{}, &database.ExternalSubtitle{},
	} {
		if err := tx.Where("media_item_id = ?", itemID).Delete(model).Error; err != nil {
			return err
		}
	}
	return tx.Delete(&database.MediaItem{}, itemID).Error
}

func toStreams(streams []mediafile.Stream) []database.MediaStream {
	out := make([]database.MediaStream, 0, len(streams))
	for _, s := range streams {
		out = append(out, database.MediaStream{
			StreamIndex:    s.Index,
			Type:           s.Type,
			Codec:          s.Codec,
			CodecLong:      s.CodecLong,
			Profile:        s.Profile,
			Language:       s.Language,
			Title:          s.Title,
			IsDefault:      s.Default,
			IsForced:       s.Forced,
			Width:          s.Width,
			Height:         s.Height,
			FrameRate:      s.FrameRate,
			PixelFormat:    s.PixelFormat,
			BitDepth:       s.BitDepth,
			ColorSpace:     s.ColorSpace,
			ColorTransfer:  s.ColorTransfer,
			ColorPrimaries: s.ColorPrimaries,
			Channels:       s.Channels,
			ChannelLayout:  s.ChannelLayout,
			SampleRate:     s.SampleRate,
			BitrateKbps:    s.BitrateKbps,
		})
	}
	return out
}
