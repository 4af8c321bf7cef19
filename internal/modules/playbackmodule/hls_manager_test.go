package playbackmodule

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/mediafile"
)

// stubEncoder writes a fake encoder binary that ignores its arguments and
// blocks until signalled, standing in for a long ffmpeg run.
func stubEncoder(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const sleepingEncoder = "#!/bin/sh\nwhile :; do sleep 1; done\n"

func newTestHLSManager(t *testing.T, ffmpeg string, maxConcurrent int) (*HLSManager, *Transcoder) {
	t.Helper()
	detector := NewHardwareDetector(ffmpeg, "software")
	tc := NewTranscoder(ffmpeg, detector, maxConcurrent, 200*time.Millisecond)
	m := NewHLSManager(ffmpeg, t.TempDir(), 2, 60, 60, detector, tc, nil)
	t.Cleanup(m.Shutdown)
	return m, tc
}

func hlsTestItem() *database.MediaItem {
	return &database.MediaItem{ID: 7, Path: "/media/show.mkv", VideoCodec: "h264"}
}

func hlsTestVideo() *mediafile.Stream {
	return &mediafile.Stream{Type: "video", Codec: "h264", Width: 1920, Height: 1080}
}

func TestGetOrCreateIsolatesOwners(t *testing.T) {
	m, _ := newTestHLSManager(t, stubEncoder(t, sleepingEncoder), 2)
	ctx := context.Background()

	s1, err := m.GetOrCreate(ctx, hlsTestItem(), hlsTestVideo(), "player-1")
	require.NoError(t, err)
	s2, err := m.GetOrCreate(ctx, hlsTestItem(), hlsTestVideo(), "player-1")
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID, "same owner rejoins its session")

	s3, err := m.GetOrCreate(ctx, hlsTestItem(), hlsTestVideo(), "player-2")
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s3.ID, "a second player gets its own session")
	assert.Equal(t, 2, m.SessionCount())

	// Destroying one owner's session leaves the other playing.
	require.True(t, m.Destroy(s1.ID))
	_, ok := m.Get(s3.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, m.SessionCount())
}

func TestGetOrCreateConcurrentSingleSession(t *testing.T) {
	m, _ := newTestHLSManager(t, stubEncoder(t, sleepingEncoder), 2)
	ctx := context.Background()

	var mu sync.Mutex
	ids := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.GetOrCreate(ctx, hlsTestItem(), hlsTestVideo(), "player-1")
			if err != nil {
				// Losers of the creation race are told to retry.
				assert.ErrorIs(t, err, ErrSessionBusy)
				return
			}
			mu.Lock()
			ids[s.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1, "concurrent requests must land in one session")
}

func TestGetOrCreateBusyWhileAnotherCreates(t *testing.T) {
	m, _ := newTestHLSManager(t, stubEncoder(t, sleepingEncoder), 2)
	ctx := context.Background()
	item := hlsTestItem()

	// Hold the per-media creation gate as a concurrent creator would.
	gate := semaphore.NewWeighted(1)
	require.True(t, gate.TryAcquire(1))
	m.mu.Lock()
	m.creating[item.ID] = gate
	m.mu.Unlock()

	_, err := m.GetOrCreate(ctx, item, hlsTestVideo(), "player-1")
	assert.ErrorIs(t, err, ErrSessionBusy)

	gate.Release(1)
	_, err = m.GetOrCreate(ctx, item, hlsTestVideo(), "player-1")
	assert.NoError(t, err)
}

func TestVariantEncodersDrawFromSlotPool(t *testing.T) {
	m, tc := newTestHLSManager(t, stubEncoder(t, sleepingEncoder), 1)
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, hlsTestItem(), hlsTestVideo(), "player-1")
	require.NoError(t, err)

	// A pipe transcode holds the only slot; the variant start must not
	// spawn a second encoder.
	require.True(t, tc.AcquireSlot(ctx))
	err = s.EnsureVariant(ctx, s.heights[0], 0)
	assert.ErrorIs(t, err, ErrEncoderBusy)
	v, ok := s.Variant(s.heights[0])
	require.True(t, ok)
	assert.False(t, v.running())

	tc.ReleaseSlot()
	require.NoError(t, s.EnsureVariant(ctx, s.heights[0], 0))
	assert.True(t, v.running())

	// Destroying the session returns the slot.
	m.Destroy(s.ID)
	require.True(t, tc.AcquireSlot(ctx))
	tc.ReleaseSlot()
}

func TestWaitersAbortWhenEncoderDies(t *testing.T) {
	m, _ := newTestHLSManager(t, stubEncoder(t, "#!/bin/sh\nexit 0\n"), 2)
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, hlsTestItem(), hlsTestVideo(), "player-1")
	require.NoError(t, err)

	start := time.Now()
	_, err = s.ServeSegment(ctx, s.heights[0], "seg_000.m4s")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second,
		"a dead encoder must abort the wait, not run out the window")
}

func TestShutdownKillsEncoders(t *testing.T) {
	m, _ := newTestHLSManager(t, stubEncoder(t, sleepingEncoder), 2)
	m.Start()
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, hlsTestItem(), hlsTestVideo(), "player-1")
	require.NoError(t, err)
	require.NoError(t, s.EnsureVariant(ctx, s.heights[0], 0))

	v, ok := s.Variant(s.heights[0])
	require.True(t, ok)
	v.mu.Lock()
	pid := v.cmd.Process.Pid
	v.mu.Unlock()

	m.Shutdown()
	assert.Zero(t, m.SessionCount())
	assert.False(t, v.running())
	assert.Error(t, syscall.Kill(pid, syscall.Signal(0)), "encoder process must be gone")
	assert.NoDirExists(t, s.dir)
}

func TestShutdownWithoutStartReturns(t *testing.T) {
	m, _ := newTestHLSManager(t, stubEncoder(t, sleepingEncoder), 2)

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown hung without a running sweeper")
	}
}

func TestRecreateReplacesSession(t *testing.T) {
	m, _ := newTestHLSManager(t, stubEncoder(t, sleepingEncoder), 2)
	ctx := context.Background()

	s1, err := m.GetOrCreate(ctx, hlsTestItem(), hlsTestVideo(), "player-1")
	require.NoError(t, err)
	s2, err := m.Recreate(ctx, s1.ID)
	require.NoError(t, err)

	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, s1.OwnerKey, s2.OwnerKey)
	_, ok := m.Get(s1.ID)
	assert.False(t, ok, "the old session id is gone")
	_, ok = m.Get(s2.ID)
	assert.True(t, ok)
}
