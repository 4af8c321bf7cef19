package scanner

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrite-media/ferrite/internal/database"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (f *flushRecorder) flush(_ database.Library, paths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(paths))
	copy(cp, paths)
	f.batches = append(f.batches, cp)
}

func (f *flushRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestWatcherDebounceCoalesces(t *testing.T) {
	rec := &flushRecorder{}
	w, err := NewWatcher(50*time.Millisecond, rec.flush)
	require.NoError(t, err)
	defer w.fsw.Close()

	lib := database.Library{ID: 1, Path: "/media/movies"}
	w.enqueue(lib, "/media/movies/a.mkv")
	w.enqueue(lib, "/media/movies/b.mkv")
	w.enqueue(lib, "/media/movies/a.mkv") // duplicate collapses

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.batches, 1)
	assert.Equal(t, []string{"/media/movies/a.mkv", "/media/movies/b.mkv"}, rec.batches[0])
}

func TestWatcherChunksLargeBatches(t *testing.T) {
	rec := &flushRecorder{}
	w, err := NewWatcher(20*time.Millisecond, rec.flush)
	require.NoError(t, err)
	defer w.fsw.Close()

	lib := database.Library{ID: 1, Path: "/media/tv"}
	for i := 0; i < maxChunkPaths+40; i++ {
		w.enqueue(lib, fmt.Sprintf("/media/tv/show/ep%04d.mkv", i))
	}

	assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.batches, 2)
	assert.Len(t, rec.batches[0], maxChunkPaths)
	assert.Len(t, rec.batches[1], 40)
}

func TestLibraryForLongestPrefix(t *testing.T) {
	w, err := NewWatcher(time.Second, func(database.Library, []string) {})
	require.NoError(t, err)
	defer w.fsw.Close()

	w.mu.Lock()
	w.libraries = []database.Library{
		{ID: 2, Path: "/media/movies/4k"},
		{ID: 1, Path: "/media/movies"},
	}
	w.mu.Unlock()

	lib, ok := w.libraryFor("/media/movies/4k/Dune.mkv")
	require.True(t, ok)
	assert.Equal(t, uint(2), lib.ID)

	lib, ok = w.libraryFor("/media/movies/Heat.mkv")
	require.True(t, ok)
	assert.Equal(t, uint(1), lib.ID)

	// Sibling directory sharing a name prefix must not match.
	_, ok = w.libraryFor("/media/moviesarchive/old.mkv")
	assert.False(t, ok)

	_, ok = w.libraryFor("/other/file.mkv")
	assert.False(t, ok)
}
