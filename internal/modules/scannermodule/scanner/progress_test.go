package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryTryStart(t *testing.T) {
	r := NewRegistry()

	st := r.TryStart(1)
	require.NotNil(t, st)
	assert.Equal(t, PhaseWalking, st.Phase())

	// Second start while running is rejected.
	assert.Nil(t, r.TryStart(1))
	assert.True(t, r.Active(1))

	// Other libraries are independent.
	assert.NotNil(t, r.TryStart(2))

	// Terminal state frees the slot; the old state is replaced.
	st.SetPhase(PhaseComplete)
	assert.False(t, r.Active(1))
	st2 := r.TryStart(1)
	require.NotNil(t, st2)
	assert.NotSame(t, st, st2)

	failed := r.TryStart(3)
	require.NotNil(t, failed)
	failed.SetPhase(PhaseFailed)
	assert.NotNil(t, r.TryStart(3))
}

func TestSnapshotCounters(t *testing.T) {
	r := NewRegistry()
	st := r.TryStart(7)
	require.NotNil(t, st)

	st.TotalFiles.Store(200)
	st.SetPhase(PhaseProbing)
	st.FilesProbed.Store(50)
	st.FilesInserted.Store(40)
	st.Errors.Add(3)
	st.SetCurrentItem("/media/movies/a.mkv")

	snap := st.Snapshot()
	assert.Equal(t, uint(7), snap.LibraryID)
	assert.Equal(t, PhaseProbing, snap.Phase)
	assert.Equal(t, int64(200), snap.TotalFiles)
	assert.Equal(t, int64(50), snap.FilesProbed)
	assert.InDelta(t, 0.25, snap.Percent, 1e-9)
	assert.Equal(t, int64(3), snap.Errors)
	assert.Equal(t, "/media/movies/a.mkv", snap.CurrentItem)
	assert.GreaterOrEqual(t, snap.ElapsedSecs, 0.0)
	// ETA is only estimated during the probe phase with progress made.
	assert.Greater(t, snap.ETASecs, 0.0)

	st.SetPhase(PhaseWriting)
	snap = st.Snapshot()
	assert.Zero(t, snap.ETASecs)
}

func TestSnapshotEmptyLibrary(t *testing.T) {
	r := NewRegistry()
	st := r.TryStart(1)
	require.NotNil(t, st)
	snap := st.Snapshot()
	assert.Zero(t, snap.Percent)
	assert.Zero(t, snap.ETASecs)
}
