package scannermodule

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ferrite-media/ferrite/internal/config"
	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/events"
	"github.com/ferrite-media/ferrite/internal/modules/scannermodule/scanner"
)

func managerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func TestScanChangedFallsBackToFullRescan(t *testing.T) {
	db := managerTestDB(t)
	cfg := config.Default()
	cfg.Scanner.AdaptiveThrottling = false

	lib := database.Library{Name: "Movies", Path: t.TempDir(), Kind: database.LibraryKindMovie}
	require.NoError(t, db.Create(&lib).Error)

	m := NewManager(db, cfg, events.NewBus(), nil)

	// A cancelled context fails the incremental probe phase; the manager
	// must then run a full rescan of the library.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	changed := filepath.Join(t.TempDir(), "new.mkv")
	require.NoError(t, os.WriteFile(changed, []byte("x"), 0o644))
	m.scanChanged(ctx, lib, []string{changed})

	// The fallback full scan of the empty library root has nothing to probe
	// and runs to completion even under the dead context.
	st, ok := m.scanner.Registry().Get(lib.ID)
	require.True(t, ok)
	assert.Equal(t, scanner.PhaseComplete, st.Snapshot().Phase)

	var stored database.Library
	require.NoError(t, db.First(&stored, lib.ID).Error)
	assert.NotNil(t, stored.LastScannedAt, "full rescan stamps the library")
}
