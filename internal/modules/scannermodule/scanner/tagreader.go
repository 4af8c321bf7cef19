package scanner

import (
	"os"

	"github.com/dhowden/tag"
)

// TrackTags is the metadata read from an audio file's embedded tags.
type TrackTags struct {
	Title  string
	Artist string
	Album  string
	Year   int
	Track  int
}

// ReadTrackTags reads embedded tags from an audio file. Files with missing
// or unreadable tags return ok=false; the caller falls back to the filename.
func ReadTrackTags(path string) (TrackTags, bool) {
	f, err := os.Open(path)
	if err != nil {
		return TrackTags{}, false
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return TrackTags{}, false
	}
	track, _ := m.Track()
	return TrackTags{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
		Year:   m.Year(),
		Track:  track,
	}, m.Title() != ""
}
