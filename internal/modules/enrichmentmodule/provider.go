// Package enrichmentmodule fills the catalog with remote metadata: titles
// are matched against a TMDb-compatible provider, details and artwork are
// fetched over HTTP, and results are written back to the database.
package enrichmentmodule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ferrite-media/ferrite/internal/config"
)

// Provider is the remote metadata surface the enricher consumes.
type Provider interface {
	SearchMovie(ctx context.Context, title string, year int) ([]MovieCandidate, error)
	GetMovieDetails(ctx context.Context, id int64) (*MovieDetails, error)
	SearchTV(ctx context.Context, title string, year int) ([]TVCandidate, error)
	GetTVDetails(ctx context.Context, id int64) (*TVDetails, error)
	GetSeasonEpisodes(ctx context.Context, showID int64, season int) ([]EpisodeDetails, error)
	ImageURL(path string) string
}

// MovieCandidate is one search result.
type MovieCandidate struct {
	ID    int64
	Title string
	Year  int
}

// MovieDetails is the full metadata record for a movie.
type MovieDetails struct {
	ID           int64
	Title        string
	Year         int
	Overview     string
	Tagline      string
	Rating       float64
	Genres       []string
	PosterPath   string
	BackdropPath string
}

// TVCandidate is one TV search result.
type TVCandidate struct {
	ID    int64
	Name  string
	Year  int
}

// TVDetails is the full metadata record for a show.
type TVDetails struct {
	ID           int64
	Name         string
	Year         int
	Overview     string
	Rating       float64
	Genres       []string
	PosterPath   string
	BackdropPath string
	Seasons      []int
}

// EpisodeDetails is per-episode metadata from a season listing.
type EpisodeDetails struct {
	Number    int
	Name      string
	Overview  string
	AirDate   string
	StillPath string
}

// TMDbClient talks to a TMDb-compatible HTTP API. All requests share one
// token-bucket rate limiter so burst scans stay inside provider quotas.
type TMDbClient struct {
	baseURL      string
	imageBaseURL string
	apiKey       string
	http         *http.Client
	limiter      *rate.Limiter
}

// NewTMDbClient builds a client from the metadata configuration.
func NewTMDbClient(cfg config.MetadataConfig) *TMDbClient {
	rps := cfg.RateLimitPerSecond
	if rps < 1 {
		rps = 4
	}
	return &TMDbClient{
		baseURL:      cfg.BaseURL,
		imageBaseURL: cfg.ImageBaseURL,
		apiKey:       cfg.APIKey,
		http:         &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// ImageURL resolves a provider-relative image path to a fetchable URL.
func (c *TMDbClient) ImageURL(path string) string {
	if path == "" {
		return ""
	}
	return c.imageBaseURL + path
}

func (c *TMDbClient) get(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata provider returned %d for %s", resp.StatusCode, endpoint)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type searchMovieResponse struct {
	Results []struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		ReleaseDate string `json:"release_date"`
	} `json:"results"`
}

// SearchMovie queries the movie search endpoint. A zero year omits the
// year filter.
func (c *TMDbClient) SearchMovie(ctx context.Context, title string, year int) ([]MovieCandidate, error) {
	q := url.Values{"query": {title}}
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}
	var resp searchMovieResponse
	if err := c.get(ctx, "/search/movie", q, &resp); err != nil {
		return nil, err
	}
	out := make([]MovieCandidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, MovieCandidate{ID: r.ID, Title: r.Title, Year: yearOf(r.ReleaseDate)})
	}
	return out, nil
}

type movieDetailsResponse struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	ReleaseDate  string  `json:"release_date"`
	Overview     string  `json:"overview"`
	Tagline      string  `json:"tagline"`
	VoteAverage  float64 `json:"vote_average"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	Genres       []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

// GetMovieDetails fetches the full record for a movie id.
func (c *TMDbClient) GetMovieDetails(ctx context.Context, id int64) (*MovieDetails, error) {
	var resp movieDetailsResponse
	if err := c.get(ctx, "/movie/"+strconv.FormatInt(id, 10), nil, &resp); err != nil {
		return nil, err
	}
	d := &MovieDetails{
		ID:           resp.ID,
		Title:        resp.Title,
		Year:         yearOf(resp.ReleaseDate),
		Overview:     resp.Overview,
		Tagline:      resp.Tagline,
		Rating:       resp.VoteAverage,
		PosterPath:   resp.PosterPath,
		BackdropPath: resp.BackdropPath,
	}
	for _, g := range resp.Genres {
		d.Genres = append(d.Genres, g.Name)
	}
	return d, nil
}

type searchTVResponse struct {
	Results []struct {
		ID           int64  `json:"id"`
		Name         string `json:"name"`
		FirstAirDate string `json:"first_air_date"`
	} `json:"results"`
}

// SearchTV queries the TV search endpoint.
func (c *TMDbClient) SearchTV(ctx context.Context, title string, year int) ([]TVCandidate, error) {
	q := url.Values{"query": {title}}
	if year > 0 {
		q.Set("first_air_date_year", strconv.Itoa(year))
	}
	var resp searchTVResponse
	if err := c.get(ctx, "/search/tv", q, &resp); err != nil {
		return nil, err
	}
	out := make([]TVCandidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, TVCandidate{ID: r.ID, Name: r.Name, Year: yearOf(r.FirstAirDate)})
	}
	return out, nil
}

type tvDetailsResponse struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	FirstAirDate string  `json:"first_air_date"`
	Overview     string  `json:"overview"`
	VoteAverage  float64 `json:"vote_average"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	Genres       []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Seasons []struct {
		SeasonNumber int `json:"season_number"`
	} `json:"seasons"`
}

// GetTVDetails fetches the full record for a show id.
func (c *TMDbClient) GetTVDetails(ctx context.Context, id int64) (*TVDetails, error) {
	var resp tvDetailsResponse
	if err := c.get(ctx, "/tv/"+strconv.FormatInt(id, 10), nil, &resp); err != nil {
		return nil, err
	}
	d := &TVDetails{
		ID:           resp.ID,
		Name:         resp.Name,
		Year:         yearOf(resp.FirstAirDate),
		Overview:     resp.Overview,
		Rating:       resp.VoteAverage,
		PosterPath:   resp.PosterPath,
		BackdropPath: resp.BackdropPath,
	}
	for _, g := range resp.Genres {
		d.Genres = append(d.Genres, g.Name)
	}
	for _, s := range resp.Seasons {
		d.Seasons = append(d.Seasons, s.SeasonNumber)
	}
	return d, nil
}

type seasonResponse struct {
	Episodes []struct {
		EpisodeNumber int    `json:"episode_number"`
		Name          string `json:"name"`
		Overview      string `json:"overview"`
		AirDate       string `json:"air_date"`
		StillPath     string `json:"still_path"`
	} `json:"episodes"`
}

// GetSeasonEpisodes lists the episodes of one season of a show.
func (c *TMDbClient) GetSeasonEpisodes(ctx context.Context, showID int64, season int) ([]EpisodeDetails, error) {
	var resp seasonResponse
	endpoint := fmt.Sprintf("/tv/%d/season/%d", showID, season)
	if err := c.get(ctx, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]EpisodeDetails, 0, len(resp.Episodes))
	for _, e := range resp.Episodes {
		out = append(out, EpisodeDetails{
			Number:    e.EpisodeNumber,
			Name:      e.Name,
			Overview:  e.Overview,
			AirDate:   e.AirDate,
			StillPath: e.StillPath,
		})
	}
	return out, nil
}

// yearOf pulls the year out of a "YYYY-MM-DD" date string.
func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, _ := strconv.Atoi(date[:4])
	return y
}
