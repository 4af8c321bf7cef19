package enrichmentmodule

import (
	"strings"

	"github.com/xrash/smetrics"

	"github.com/ferrite-media/ferrite/internal/modules/scannermodule/scanner"
)

// minMatchScore is the floor below which a search result is rejected rather
// than risk pinning wrong metadata to a file.
const minMatchScore = 0.6

// yearBonus rewards candidates whose release year agrees with the filename.
const yearBonus = 0.1

// ScoreTitles compares two titles on their normalized forms. Equal years add
// a fixed bonus; a zero on either side means year unknown and adds nothing.
func ScoreTitles(local string, localYear int, remote string, remoteYear int) float64 {
	a := scanner.NormalizeTitle(local)
	b := scanner.NormalizeTitle(remote)
	if a == "" || b == "" {
		return 0
	}
	score := smetrics.JaroWinkler(a, b, 0.7, 4)
	if localYear > 0 && localYear == remoteYear {
		score += yearBonus
	}
	return score
}

// CandidateQueries expands a parsed title into the query variants worth
// sending to the provider: the title as-is, ampersand spelled out, and the
// year-stripped form. Case-insensitive duplicates collapse.
func CandidateQueries(title string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(q string) {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, q)
	}

	add(title)
	if strings.Contains(title, "&") {
		add(strings.ReplaceAll(title, "&", "and"))
	}
	if stripped, year := scanner.StripTrailingYear(title); year > 0 {
		add(stripped)
		if strings.Contains(stripped, "&") {
			add(strings.ReplaceAll(stripped, "&", "and"))
		}
	}
	return out
}

// BestMovieMatch picks the highest scoring candidate at or above the match
// floor, or ok=false when nothing qualifies.
func BestMovieMatch(title string, year int, candidates []MovieCandidate) (MovieCandidate, bool) {
	var best MovieCandidate
	bestScore := 0.0
	for _, cand := range candidates {
		s := ScoreTitles(title, year, cand.Title, cand.Year)
		if s > bestScore {
			best, bestScore = cand, s
		}
	}
	return best, bestScore >= minMatchScore
}

// BestTVMatch picks the highest scoring TV candidate at or above the floor.
func BestTVMatch(title string, year int, candidates []TVCandidate) (TVCandidate, bool) {
	var best TVCandidate
	bestScore := 0.0
	for _, cand := range candidates {
		s := ScoreTitles(title, year, cand.Name, cand.Year)
		if s > bestScore {
			best, bestScore = cand, s
		}
	}
	return best, bestScore >= minMatchScore
}
