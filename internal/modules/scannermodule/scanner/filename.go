// Package scanner implements the library scan pipeline: walking roots,
// probing files, writing catalog batches, extracting subtitles and watching
// for filesystem changes.
package scanner

import (
	"regexp"
	"strconv"
	"strings"
)

// ParsedName is the result of deducing title metadata from a file stem.
type ParsedName struct {
	Title     string
	Year      int
	IsEpisode bool
	Show      string
	Season    int
	Episode   int
}

// Ordered rules; first match wins.
var (
	reSeasonEpisode = regexp.MustCompile(`(?i)^(.*?)[\. _-]*S(\d{1,2})[\. _-]*E(\d{1,3})`)
	reNxNN          = regexp.MustCompile(`(?i)^(.*?)[\. _-]+(\d{1,2})x(\d{2,3})`)
	reParenYear     = regexp.MustCompile(`^(.*?)[\. _]*\((\d{4})\)`)
	reBracketYear   = regexp.MustCompile(`^(.*?)[\. _]*\[(\d{4})\]`)
	reDottedYear    = regexp.MustCompile(`^(.*?)[\. _](19\d{2}|20\d{2})[\. _]`)
	reTrailingYear  = regexp.MustCompile(`[\. _(]*((19|20)\d{2})\)?$`)
)

// ParseFilename deduces movie title/year or show/season/episode from a file
// stem (the name without directory or extension).
func ParseFilename(stem string) ParsedName {
	if m := reSeasonEpisode.FindStringSubmatch(stem); m != nil {
		season, _ := strconv.Atoi(m[2])
		episode, _ := strconv.Atoi(m[3])
		return ParsedName{
			IsEpisode: true,
			Show:      CleanTitle(m[1]),
			Season:    season,
			Episode:   episode,
			Title:     CleanTitle(m[1]),
		}
	}
	if m := reNxNN.FindStringSubmatch(stem); m != nil {
		season, _ := strconv.Atoi(m[2])
		episode, _ := strconv.Atoi(m[3])
		return ParsedName{
			IsEpisode: true,
			Show:      CleanTitle(m[1]),
			Season:    season,
			Episode:   episode,
			Title:     CleanTitle(m[1]),
		}
	}
	if m := reParenYear.FindStringSubmatch(stem); m != nil {
		year, _ := strconv.Atoi(m[2])
		return ParsedName{Title: CleanTitle(m[1]), Year: year}
	}
	if m := reBracketYear.FindStringSubmatch(stem); m != nil {
		year, _ := strconv.Atoi(m[2])
		return ParsedName{Title: CleanTitle(m[1]), Year: year}
	}
	if m := reDottedYear.FindStringSubmatch(stem); m != nil {
		year, _ := strconv.Atoi(m[2])
		return ParsedName{Title: CleanTitle(m[1]), Year: year}
	}
	return ParsedName{Title: CleanTitle(stem)}
}

// CleanTitle replaces separator characters with spaces and collapses runs of
// whitespace.
func CleanTitle(s string) string {
	s = strings.NewReplacer(".", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// StripTrailingYear removes a trailing 4-digit year, parenthesized or bare,
// returning the remaining title and the year (0 when absent). Idempotent.
func StripTrailingYear(title string) (string, int) {
	m := reTrailingYear.FindStringSubmatchIndex(title)
	if m == nil {
		return title, 0
	}
	year, _ := strconv.Atoi(title[m[2]:m[3]])
	stripped := strings.TrimSpace(title[:m[0]])
	if stripped == "" {
		// A bare year is a title, not a year suffix.
		return title, 0
	}
	return stripped, year
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)

// NormalizeTitle produces the fuzzy-match key for shows: lowercased,
// punctuation stripped, whitespace collapsed, trailing year removed.
func NormalizeTitle(title string) string {
	t, _ := StripTrailingYear(title)
	t = strings.ToLower(t)
	t = nonAlnum.ReplaceAllString(t, " ")
	return strings.Join(strings.Fields(t), " ")
}
