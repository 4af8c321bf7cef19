package enrichmentmodule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/ferrite-media/ferrite/internal/config"
	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/logger"
	"github.com/ferrite-media/ferrite/internal/modules/scannermodule/scanner"
)

// Enricher matches catalog rows against the metadata provider and fills in
// details and artwork. Provider traffic runs in bounded worker pools; all
// database writes happen after the HTTP work, serialized through a writer
// semaphore so long fetches never sit inside a transaction.
type Enricher struct {
	db       *gorm.DB
	provider Provider
	images   *ImageCache
	log      hclog.Logger

	movieWorkers int
	showWorkers  int
	writer       *semaphore.Weighted
}

// NewEnricher wires the enrichment pipeline. Returns nil when enrichment is
// disabled or no API key is configured; callers treat a nil enricher as a
// no-op.
func NewEnricher(db *gorm.DB, cfg *config.Config) *Enricher {
	if !cfg.Metadata.Enabled || cfg.Metadata.APIKey == "" {
		return nil
	}
	movieWorkers := cfg.Metadata.MovieWorkers
	if movieWorkers < 1 {
		movieWorkers = 8
	}
	showWorkers := cfg.Metadata.ShowWorkers
	if showWorkers < 1 {
		showWorkers = 4
	}
	return &Enricher{
		db:           db,
		provider:     NewTMDbClient(cfg.Metadata),
		images:       NewImageCache(cfg.ImageCacheDir()),
		log:          logger.Named("enrichment"),
		movieWorkers: movieWorkers,
		showWorkers:  showWorkers,
		writer:       semaphore.NewWeighted(1),
	}
}

// EnrichLibrary processes every unenriched movie and show in the library.
// Satisfies the scan pipeline's enrich hook.
func (e *Enricher) EnrichLibrary(ctx context.Context, libraryID uint, state *scanner.ScanState) {
	if e == nil {
		return
	}
	e.enrichMovies(ctx, libraryID, state)
	e.enrichShows(ctx, libraryID, state)
}

func (e *Enricher) enrichMovies(ctx context.Context, libraryID uint, state *scanner.ScanState) {
	var movies []database.Movie
	err := e.db.Joins("JOIN media_items ON media_items.id = movies.media_item_id").
		Where("media_items.library_id = ? AND movies.fetched_at IS NULL", libraryID).
		Find(&movies).Error
	if err != nil {
		e.log.Error("failed to list unenriched movies", "error", err)
		return
	}
	if len(movies) == 0 {
		return
	}
	e.log.Info("enriching movies", "count", len(movies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.movieWorkers)
	for i := range movies {
		movie := movies[i]
		g.Go(func() error {
			if err := e.enrichMovie(gctx, movie); err != nil {
				e.log.Warn("movie enrichment failed", "title", movie.Title, "error", err)
				if state != nil {
					state.Errors.Add(1)
				}
				return nil
			}
			if state != nil {
				state.ItemsEnriched.Add(1)
			}
			return nil
		})
	}
	g.Wait()
}

func (e *Enricher) enrichMovie(ctx context.Context, movie database.Movie) error {
	match, ok := e.searchMovie(ctx, movie.Title, movie.Year)
	now := time.Now()
	if !ok {
		// Stamp the attempt so the next scan does not retry a hopeless title.
		return e.write(ctx, func(tx *gorm.DB) error {
			return tx.Model(&database.Movie{}).Where("id = ?", movie.ID).
				Update("fetched_at", &now).Error
		})
	}

	details, err := e.provider.GetMovieDetails(ctx, match.ID)
	if err != nil {
		return err
	}
	poster, _ := e.images.Fetch(ctx, e.provider.ImageURL(details.PosterPath), details.ID, "poster")
	backdrop, _ := e.images.Fetch(ctx, e.provider.ImageURL(details.BackdropPath), details.ID, "backdrop")
	genres, _ := json.Marshal(details.Genres)

	return e.write(ctx, func(tx *gorm.DB) error {
		return tx.Model(&database.Movie{}).Where("id = ?", movie.ID).Updates(map[string]interface{}{
			"title":      details.Title,
			"year":       details.Year,
			"overview":   details.Overview,
			"tagline":    details.Tagline,
			"rating":     details.Rating,
			"remote_id":  details.ID,
			"poster":     poster,
			"backdrop":   backdrop,
			"genres":     string(genres),
			"fetched_at": &now,
		}).Error
	})
}

func (e *Enricher) searchMovie(ctx context.Context, title string, year int) (MovieCandidate, bool) {
	for _, query := range CandidateQueries(title) {
		candidates, err := e.provider.SearchMovie(ctx, query, year)
		if err != nil {
			e.log.Warn("movie search failed", "query", query, "error", err)
			continue
		}
		if match, ok := BestMovieMatch(title, year, candidates); ok {
			return match, true
		}
		// Year filters can exclude the right answer on off-by-one releases.
		if year > 0 {
			candidates, err = e.provider.SearchMovie(ctx, query, 0)
			if err != nil {
				continue
			}
			if match, ok := BestMovieMatch(title, year, candidates); ok {
				return match, true
			}
		}
	}
	return MovieCandidate{}, false
}

func (e *Enricher) enrichShows(ctx context.Context, libraryID uint, state *scanner.ScanState) {
	var shows []database.Show
	err := e.db.Where("library_id = ? AND fetched_at IS NULL", libraryID).Find(&shows).Error
	if err != nil {
		e.log.Error("failed to list unenriched shows", "error", err)
		return
	}
	if len(shows) == 0 {
		return
	}
	e.log.Info("enriching shows", "count", len(shows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.showWorkers)
	for i := range shows {
		show := shows[i]
		g.Go(func() error {
			if err := e.enrichShow(gctx, show); err != nil {
				e.log.Warn("show enrichment failed", "title", show.Title, "error", err)
				if state != nil {
					state.Errors.Add(1)
				}
				return nil
			}
			if state != nil {
				state.ItemsEnriched.Add(1)
			}
			return nil
		})
	}
	g.Wait()
}

func (e *Enricher) enrichShow(ctx context.Context, show database.Show) error {
	match, ok := e.searchTV(ctx, show.Title, show.Year)
	now := time.Now()
	if !ok {
		return e.write(ctx, func(tx *gorm.DB) error {
			return tx.Model(&database.Show{}).Where("id = ?", show.ID).
				Update("fetched_at", &now).Error
		})
	}

	details, err := e.provider.GetTVDetails(ctx, match.ID)
	if err != nil {
		return err
	}
	poster, _ := e.images.Fetch(ctx, e.provider.ImageURL(details.PosterPath), details.ID, "poster")
	backdrop, _ := e.images.Fetch(ctx, e.provider.ImageURL(details.BackdropPath), details.ID, "backdrop")
	genres, _ := json.Marshal(details.Genres)

	// Season listings are fetched before taking the writer, same as artwork.
	// Keyed by season number: ids are re-resolved inside the transaction.
	var seasons []database.Season
	if err := e.db.Where("show_id = ?", show.ID).Find(&seasons).Error; err != nil {
		return err
	}
	episodesBySeason := make(map[int][]EpisodeDetails)
	for _, season := range seasons {
		eps, err := e.provider.GetSeasonEpisodes(ctx, details.ID, season.Number)
		if err != nil {
			e.log.Warn("season listing failed", "show", show.Title, "season", season.Number, "error", err)
			continue
		}
		episodesBySeason[season.Number] = eps
	}
	stills := e.fetchStills(ctx, details.ID, episodesBySeason)

	return e.write(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&database.Show{}).Where("id = ?", show.ID).Updates(map[string]interface{}{
			"title":      details.Name,
			"year":       details.Year,
			"overview":   details.Overview,
			"rating":     details.Rating,
			"remote_id":  details.ID,
			"poster":     poster,
			"backdrop":   backdrop,
			"genres":     string(genres),
			"fetched_at": &now,
		}).Error; err != nil {
			return err
		}
		// The season set can shift between the snapshot and the write lock;
		// a re-scan may have replaced rows. Re-read it here.
		var current []database.Season
		if err := tx.Where("show_id = ?", show.ID).Find(&current).Error; err != nil {
			return err
		}
		for _, season := range current {
			for _, ep := range episodesBySeason[season.Number] {
				still := stills[stillKey{Season: season.Number, Episode: ep.Number}]
				if err := e.updateEpisode(tx, season.ID, ep, still); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// stillKey addresses one episode's still image within a show.
type stillKey struct {
	Season  int
	Episode int
}

// fetchStills downloads episode stills into the image cache with bounded
// parallelism, before the writer is taken. Failed downloads are skipped;
// the episode row just keeps an empty still.
func (e *Enricher) fetchStills(ctx context.Context, showRemoteID int64, episodes map[int][]EpisodeDetails) map[stillKey]string {
	const stillWorkers = 8
	var mu sync.Mutex
	out := make(map[stillKey]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stillWorkers)
	for number, eps := range episodes {
		number := number
		for i := range eps {
			ep := eps[i]
			g.Go(func() error {
				if ep.StillPath == "" {
					return nil
				}
				name := fmt.Sprintf("%d_s%d_e%d_still.jpg", showRemoteID, number, ep.Number)
				local, err := e.images.FetchNamed(gctx, e.provider.ImageURL(ep.StillPath), name)
				if err != nil || local == "" {
					return nil
				}
				mu.Lock()
				out[stillKey{Season: number, Episode: ep.Number}] = local
				mu.Unlock()
				return nil
			})
		}
	}
	g.Wait()
	return out
}

// updateEpisode fills episode fields that are still empty. Provider data
// never overwrites titles a user has already corrected.
func (e *Enricher) updateEpisode(tx *gorm.DB, seasonID uint, ep EpisodeDetails, still string) error {
	return tx.Exec(`UPDATE episodes SET
			title = COALESCE(NULLIF(title, ''), ?),
			overview = COALESCE(NULLIF(overview, ''), ?),
			air_date = COALESCE(NULLIF(air_date, ''), ?),
			still = COALESCE(NULLIF(still, ''), ?)
		WHERE season_id = ? AND number = ?`,
		ep.Name, ep.Overview, ep.AirDate, still, seasonID, ep.Number).Error
}

func (e *Enricher) searchTV(ctx context.Context, title string, year int) (TVCandidate, bool) {
	for _, query := range CandidateQueries(title) {
		candidates, err := e.provider.SearchTV(ctx, query, year)
		if err != nil {
			e.log.Warn("tv search failed", "query", query, "error", err)
			continue
		}
		if match, ok := BestTVMatch(title, year, candidates); ok {
			return match, true
		}
		if year > 0 {
			candidates, err = e.provider.SearchTV(ctx, query, 0)
			if err != nil {
				continue
			}
			if match, ok := BestTVMatch(title, year, candidates); ok {
				return match, true
			}
		}
	}
	return TVCandidate{}, false
}

// write runs fn in a transaction under the writer semaphore. The semaphore
// keeps concurrent workers from piling up on the database lock.
func (e *Enricher) write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if err := e.writer.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.writer.Release(1)
	return e.db.Transaction(fn)
}
