// Package scannermodule owns library management and the scan lifecycle:
// starting scans, reporting progress, and reacting to filesystem changes.
package scannermodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/ferrite-media/ferrite/internal/config"
	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/events"
	"github.com/ferrite-media/ferrite/internal/logger"
	"github.com/ferrite-media/ferrite/internal/mediafile"
	"github.com/ferrite-media/ferrite/internal/modules/scannermodule/scanner"
)

// Manager coordinates scans across libraries.
type Manager struct {
	db      *gorm.DB
	cfg     *config.Config
	bus     *events.Bus
	scanner *scanner.Scanner
	watcher *scanner.Watcher
	log     hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager wires the scanner stack. The enrich hook is called at the end
// of every scan's write phase; pass nil to disable enrichment.
func NewManager(db *gorm.DB, cfg *config.Config, bus *events.Bus, enrich scanner.EnrichFunc) *Manager {
	prober := mediafile.NewProber(cfg.Transcode.FFprobePath)
	extractor := scanner.NewSubtitleExtractor(cfg.Transcode.FFmpegPath, cfg.SubtitleCacheDir())
	throttler := scanner.NewThrottler(cfg.Scanner.AdaptiveThrottling, cfg.Scanner.CPUThreshold)
	registry := scanner.NewRegistry()

	return &Manager{
		db:      db,
		cfg:     cfg,
		bus:     bus,
		scanner: scanner.NewScanner(db, prober, extractor, throttler, registry, cfg.Scanner.ConcurrentProbes, enrich),
		log:     logger.Named("scannermodule"),
	}
}

// Start brings up the filesystem watcher for every existing library.
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)
	m.ctx = ctx

	if !m.cfg.Scanner.WatchEnabled {
		m.log.Info("filesystem watching disabled")
		return nil
	}

	debounce := time.Duration(m.cfg.Scanner.WatchDebounceSeconds) * time.Second
	w, err := scanner.NewWatcher(debounce, func(lib database.Library, paths []string) {
		m.scanChanged(ctx, lib, paths)
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	m.watcher = w

	var libraries []database.Library
	if err := m.db.Find(&libraries).Error; err != nil {
		return err
	}
	for _, lib := range libraries {
		if err := m.watcher.WatchLibrary(lib); err != nil {
			m.log.Warn("failed to watch library", "library", lib.ID, "path", lib.Path, "error", err)
		}
	}
	m.watcher.Start(ctx)
	m.log.Info("watching libraries", "count", len(libraries))
	return nil
}

// Stop shuts the watcher down.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// StartScan launches a full scan of the library in the background. The scan
// outlives the triggering request; it is bound to the manager's lifecycle.
func (m *Manager) StartScan(libraryID uint) error {
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	var lib database.Library
	if err := m.db.First(&lib, libraryID).Error; err != nil {
		return fmt.Errorf("library %d not found", libraryID)
	}
	if m.scanner.Registry().Active(libraryID) {
		return fmt.Errorf("scan already running for library %d", libraryID)
	}

	go func() {
		ev := events.NewSystemEvent(events.EventScanStarted, "Scan started", lib.Path)
		ev.Data = map[string]interface{}{"library_id": lib.ID}
		m.bus.PublishAsync(ev)

		state, err := m.scanner.Scan(ctx, &lib)
		if err != nil {
			m.log.Error("scan failed", "library", lib.ID, "error", err)
			fail := events.NewSystemEvent(events.EventScanFailed, "Scan failed", err.Error())
			fail.Data = map[string]interface{}{"library_id": lib.ID}
			m.bus.PublishAsync(fail)
			return
		}
		snap := state.Snapshot()
		done := events.NewSystemEvent(events.EventScanCompleted, "Scan complete", lib.Path)
		done.Data = map[string]interface{}{
			"library_id": lib.ID,
			"files":      snap.TotalFiles,
			"errors":     snap.Errors,
		}
		m.bus.PublishAsync(done)
	}()
	return nil
}

// ScanStatus returns the progress snapshot for a library's current or most
// recent scan.
func (m *Manager) ScanStatus(libraryID uint) (scanner.Snapshot, bool) {
	st, ok := m.scanner.Registry().Get(libraryID)
	if !ok {
		return scanner.Snapshot{}, false
	}
	return st.Snapshot(), true
}

// CreateLibrary registers a library and begins watching it.
func (m *Manager) CreateLibrary(name, path, kind string) (*database.Library, error) {
	switch kind {
	case database.LibraryKindMovie, database.LibraryKindTV, database.LibraryKindMusic:
	default:
		return nil, fmt.Errorf("unsupported library kind: %s", kind)
	}
	lib := &database.Library{Name: name, Path: path, Kind: kind}
	if err := m.db.Create(lib).Error; err != nil {
		return nil, err
	}
	if m.watcher != nil {
		if err := m.watcher.WatchLibrary(*lib); err != nil {
			m.log.Warn("failed to watch new library", "library", lib.ID, "error", err)
		}
	}
	return lib, nil
}

// DeleteLibrary removes a library, its catalog rows, its watch and the
// extracted subtitles cached for its items.
func (m *Manager) DeleteLibrary(libraryID uint) error {
	if m.watcher != nil {
		m.watcher.UnwatchLibrary(libraryID)
	}

	var itemIDs []uint
	m.db.Model(&database.MediaItem{}).Where("library_id = ?", libraryID).Pluck("id", &itemIDs)

	if err := database.DeleteLibrary(m.db, libraryID); err != nil {
		return err
	}
	cacheDir := m.cfg.SubtitleCacheDir()
	for _, id := range itemIDs {
		os.RemoveAll(filepath.Join(cacheDir, strconv.FormatUint(uint64(id), 10)))
	}
	return nil
}

// scanChanged handles one debounced batch from the watcher. A failed
// incremental scan falls back to one full rescan so the catalog cannot
// drift out of step with the filesystem.
func (m *Manager) scanChanged(ctx context.Context, lib database.Library, paths []string) {
	// Re-read: the library may have been deleted since the event fired.
	var current database.Library
	if err := m.db.First(&current, lib.ID).Error; err != nil {
		return
	}
	m.log.Info("incremental scan", "library", lib.ID, "paths", len(paths))
	if _, err := m.scanner.ScanPaths(ctx, &current, paths); err != nil {
		m.log.Warn("incremental scan failed, falling back to full rescan",
			"library", lib.ID, "error", err)
		if _, err := m.scanner.Scan(ctx, &current); err != nil {
			m.log.Error("fallback full rescan failed", "library", lib.ID, "error", err)
		}
	}
}
