package enrichmentmodule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreTitles(t *testing.T) {
	// Exact match with matching year earns the bonus.
	exact := ScoreTitles("Heat", 1995, "Heat", 1995)
	assert.Greater(t, exact, 1.0)

	// Exact title, unknown local year: no bonus, still a perfect base.
	noYear := ScoreTitles("Heat", 0, "Heat", 1995)
	assert.InDelta(t, 1.0, noYear, 1e-9)

	// Punctuation and case differences do not hurt.
	assert.InDelta(t, 1.0, ScoreTitles("Its Always Sunny", 0, "It's always sunny", 0), 1e-9)

	// Unrelated titles score low.
	assert.Less(t, ScoreTitles("Heat", 0, "Frozen", 0), 0.6)

	// Empty input never matches.
	assert.Zero(t, ScoreTitles("", 0, "Heat", 0))
}

func TestCandidateQueries(t *testing.T) {
	qs := CandidateQueries("Fast & Furious")
	assert.Equal(t, []string{"Fast & Furious", "Fast and Furious"}, qs)

	qs = CandidateQueries("Doctor Who 2005")
	assert.Equal(t, []string{"Doctor Who 2005", "Doctor Who"}, qs)

	// Case-insensitive dedupe.
	qs = CandidateQueries("heat")
	assert.Equal(t, []string{"heat"}, qs)
}

func TestBestMovieMatch(t *testing.T) {
	candidates := []MovieCandidate{
		{ID: 1, Title: "Heat", Year: 1972},
		{ID: 2, Title: "Heat", Year: 1995},
		{ID: 3, Title: "White Heat", Year: 1949},
	}

	// The year bonus disambiguates remakes.
	best, ok := BestMovieMatch("Heat", 1995, candidates)
	require.True(t, ok)
	assert.Equal(t, int64(2), best.ID)

	// Below the floor: nothing qualifies.
	_, ok = BestMovieMatch("Completely Different Film", 0, candidates)
	assert.False(t, ok)

	// Empty candidate list.
	_, ok = BestMovieMatch("Heat", 1995, nil)
	assert.False(t, ok)
}

func TestBestTVMatch(t *testing.T) {
	candidates := []TVCandidate{
		{ID: 10, Name: "The Office", Year: 2001},
		{ID: 11, Name: "The Office", Year: 2005},
	}
	best, ok := BestTVMatch("The Office 2005", 2005, candidates)
	require.True(t, ok)
	assert.Equal(t, int64(11), best.ID)
}

func TestYearOf(t *testing.T) {
	assert.Equal(t, 1999, yearOf("1999-03-31"))
	assert.Equal(t, 0, yearOf(""))
	assert.Equal(t, 0, yearOf("bad"))
}
