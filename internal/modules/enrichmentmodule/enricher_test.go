package enrichmentmodule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/logger"
)

// stubTVProvider serves a single show with fixed season listings. The
// optional hook runs on every season fetch, between the enricher's catalog
// snapshot and its write.
type stubTVProvider struct {
	remoteID  int64
	imageBase string
	episodes  map[int][]EpisodeDetails
	onSeason  func(season int)
}

func (p *stubTVProvider) SearchMovie(ctx context.Context, title string, year int) ([]MovieCandidate, error) {
	return nil, nil
}

func (p *stubTVProvider) GetMovieDetails(ctx context.Context, id int64) (*MovieDetails, error) {
	return &MovieDetails{ID: id}, nil
}

func (p *stubTVProvider) SearchTV(ctx context.Context, title string, year int) ([]TVCandidate, error) {
	return []TVCandidate{{ID: p.remoteID, Name: title, Year: year}}, nil
}

func (p *stubTVProvider) GetTVDetails(ctx context.Context, id int64) (*TVDetails, error) {
	return &TVDetails{ID: id, Name: "Severance", Year: 2022, Overview: "from the provider"}, nil
}

func (p *stubTVProvider) GetSeasonEpisodes(ctx context.Context, showID int64, season int) ([]EpisodeDetails, error) {
	if p.onSeason != nil {
		p.onSeason(season)
	}
	return p.episodes[season], nil
}

func (p *stubTVProvider) ImageURL(path string) string {
	if path == "" {
		return ""
	}
	return p.imageBase + path
}

func enrichTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func testEnricher(db *gorm.DB, p Provider, cacheDir string) *Enricher {
	return &Enricher{
		db:           db,
		provider:     p,
		images:       NewImageCache(cacheDir),
		log:          logger.Named("enrichment"),
		movieWorkers: 2,
		showWorkers:  2,
		writer:       semaphore.NewWeighted(1),
	}
}

func seedShowWithEpisode(t *testing.T, db *gorm.DB) (database.Show, database.Season, database.Episode) {
	t.Helper()
	lib := database.Library{Name: "TV", Path: "/media/tv", Kind: database.LibraryKindTV}
	require.NoError(t, db.Create(&lib).Error)
	show := database.Show{LibraryID: lib.ID, Title: "Severance", NormalizedTitle: "severance"}
	require.NoError(t, db.Create(&show).Error)
	season := database.Season{ShowID: show.ID, Number: 1}
	require.NoError(t, db.Create(&season).Error)
	item := database.MediaItem{LibraryID: lib.ID, Kind: database.MediaKindEpisode, Path: "/media/tv/s01e02.mkv"}
	require.NoError(t, db.Create(&item).Error)
	ep := database.Episode{SeasonID: season.ID, ShowID: show.ID, MediaItemID: item.ID, Number: 2}
	require.NoError(t, db.Create(&ep).Error)
	return show, season, ep
}

func TestEnrichShowCachesEpisodeStills(t *testing.T) {
	db := enrichTestDB(t)
	show, _, _ := seedShowWithEpisode(t, db)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	p := &stubTVProvider{
		remoteID:  99,
		imageBase: srv.URL,
		episodes: map[int][]EpisodeDetails{
			1: {{Number: 2, Name: "Half Loop", Overview: "ep overview", AirDate: "2022-02-25", StillPath: "/still.jpg"}},
		},
	}
	e := testEnricher(db, p, cacheDir)

	require.NoError(t, e.enrichShow(context.Background(), show))

	var ep database.Episode
	require.NoError(t, db.Where("show_id = ? AND number = ?", show.ID, 2).First(&ep).Error)
	assert.Equal(t, "Half Loop", ep.Title)
	// The still column holds the cached local filename, not a provider URL.
	assert.Equal(t, "99_s1_e2_still.jpg", ep.Still)
	data, err := os.ReadFile(filepath.Join(cacheDir, ep.Still))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	var stored database.Show
	require.NoError(t, db.First(&stored, show.ID).Error)
	assert.Equal(t, int64(99), stored.RemoteID)
	assert.NotNil(t, stored.FetchedAt)
}

func TestEnrichShowSurvivesSeasonReplacement(t *testing.T) {
	db := enrichTestDB(t)
	show, season, ep := seedShowWithEpisode(t, db)

	p := &stubTVProvider{
		remoteID: 99,
		episodes: map[int][]EpisodeDetails{
			1: {{Number: 2, Name: "Half Loop"}},
		},
	}
	// A concurrent re-scan replaces the season and episode rows with fresh
	// ids after the enricher's snapshot but before its write.
	replaced := false
	p.onSeason = func(int) {
		if replaced {
			return
		}
		replaced = true
		require.NoError(t, db.Delete(&database.Episode{}, ep.ID).Error)
		require.NoError(t, db.Delete(&database.Season{}, season.ID).Error)
		fresh := database.Season{ShowID: show.ID, Number: 1}
		require.NoError(t, db.Create(&fresh).Error)
		require.NoError(t, db.Create(&database.Episode{
			SeasonID: fresh.ID, ShowID: show.ID, MediaItemID: ep.MediaItemID, Number: 2,
		}).Error)
	}
	e := testEnricher(db, p, t.TempDir())

	require.NoError(t, e.enrichShow(context.Background(), show))

	// The write resolved the season by number inside the transaction, so
	// the replacement rows got the episode metadata.
	var fresh database.Episode
	require.NoError(t, db.Where("show_id = ? AND number = ?", show.ID, 2).First(&fresh).Error)
	assert.NotEqual(t, ep.ID, fresh.ID)
	assert.Equal(t, "Half Loop", fresh.Title)
}
