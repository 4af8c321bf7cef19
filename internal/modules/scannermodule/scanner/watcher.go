package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/logger"
)

// maxChunkPaths bounds how many paths one incremental scan receives; bigger
// bursts are split so a single torrent completion cannot stall the pipeline.
const maxChunkPaths = 256

// FlushFunc receives the debounced, chunked paths for one library.
type FlushFunc func(library database.Library, paths []string)

// Watcher follows filesystem events under every watched library root and
// hands coalesced path batches to the scan pipeline. Events are debounced
// per library so a burst of writes becomes one incremental scan.
type Watcher struct {
	fsw      *fsnotify.Watcher
	flush    FlushFunc
	debounce time.Duration
	log      hclogLogger

	mu        sync.Mutex
	libraries []database.Library     // sorted by path length, longest first
	pending   map[uint]map[string]bool
	timers    map[uint]*time.Timer

	done chan struct{}
}

// NewWatcher creates a watcher. Call Start to begin delivering batches.
func NewWatcher(debounce time.Duration, flush FlushFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		fsw:      fsw,
		flush:    flush,
		debounce: debounce,
		log:      logger.Named("watcher"),
		pending:  make(map[uint]map[string]bool),
		timers:   make(map[uint]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// WatchLibrary registers a library root and all its subdirectories.
func (w *Watcher) WatchLibrary(library database.Library) error {
	w.mu.Lock()
	w.libraries = append(w.libraries, library)
	sort.Slice(w.libraries, func(i, j int) bool {
		return len(w.libraries[i].Path) > len(w.libraries[j].Path)
	})
	w.mu.Unlock()
	return w.addRecursive(library.Path)
}

// UnwatchLibrary removes a library and its directory watches.
func (w *Watcher) UnwatchLibrary(libraryID uint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, lib := range w.libraries {
		if lib.ID == libraryID {
			root := lib.Path
			w.libraries = append(w.libraries[:i], w.libraries[i+1:]...)
			delete(w.pending, libraryID)
			if t, ok := w.timers[libraryID]; ok {
				t.Stop()
				delete(w.timers, libraryID)
			}
			for _, watched := range w.fsw.WatchList() {
				if strings.HasPrefix(watched, root) {
					w.fsw.Remove(watched)
				}
			}
			return
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// Start runs the event loop until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.log.Warn("watch error", "error", err)
			}
		}
	}()
}

// Close stops delivering events. Pending timers are dropped.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	<-w.done
	return err
}

func (w *Watcher) handle(event fsnotify.Event) {
	// New directories must be watched before files land in them.
	if event.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			w.addRecursive(event.Name)
			return
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	lib, ok := w.libraryFor(event.Name)
	if !ok {
		return
	}
	w.enqueue(lib, event.Name)
}

// libraryFor maps a path to its library by longest matching root prefix.
func (w *Watcher) libraryFor(path string) (database.Library, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, lib := range w.libraries {
		root := strings.TrimSuffix(lib.Path, string(filepath.Separator))
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return lib, true
		}
	}
	return database.Library{}, false
}

func (w *Watcher) enqueue(lib database.Library, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	set, ok := w.pending[lib.ID]
	if !ok {
		set = make(map[string]bool)
		w.pending[lib.ID] = set
	}
	set[path] = true

	// Each event restarts the debounce window.
	if t, ok := w.timers[lib.ID]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[lib.ID] = time.AfterFunc(w.debounce, func() {
		w.fire(lib)
	})
}

func (w *Watcher) fire(lib database.Library) {
	w.mu.Lock()
	set := w.pending[lib.ID]
	delete(w.pending, lib.ID)
	delete(w.timers, lib.ID)
	w.mu.Unlock()

	if len(set) == 0 {
		return
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	w.log.Debug("flushing watch batch", "library", lib.ID, "paths", len(paths))
	for start := 0; start < len(paths); start += maxChunkPaths {
		end := start + maxChunkPaths
		if end > len(paths) {
			end = len(paths)
		}
		w.flush(lib, paths[start:end])
	}
}
