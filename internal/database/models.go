package database

import "time"

// Library kinds and media item kinds.
const (
	LibraryKindMovie = "movie"
	LibraryKindTV    = "tv"
	LibraryKindMusic = "music"

	MediaKindMovie   = "movie"
	MediaKindEpisode = "episode"
	MediaKindTrack   = "track"
)

// User is peripheral; the core only needs a stable id for playback progress.
type User struct {
	ID        uint   `json:"id" gorm:"primarykey"`
	Name      string `json:"name" gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

// Library is a root directory of media files of one kind. Deleting a library
// cascades to every row it transitively owns.
type Library struct {
	ID            uint       `json:"id" gorm:"primarykey"`
	Name          string     `json:"name"`
	Path          string     `json:"path" gorm:"uniqueIndex;not null"`
	Kind          string     `json:"kind" gorm:"not null"` // movie, tv, music
	LastScannedAt *time.Time `json:"last_scanned_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Items []MediaItem `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Shows []Show      `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

// MediaItem is one playable file on disk. Technical fields are filled from
// the probe snapshot and refreshed on every successful re-probe.
type MediaItem struct {
	ID        uint   `json:"id" gorm:"primarykey"`
	LibraryID uint   `json:"library_id" gorm:"index;not null"`
	Kind      string `json:"kind" gorm:"index;not null"` // movie, episode, track
	Path      string `json:"path" gorm:"uniqueIndex;not null"`
	Size      int64  `json:"size"`

	Container   string `json:"container"`
	DurationMs  int64  `json:"duration_ms"`
	BitrateKbps int    `json:"bitrate_kbps"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	VideoCodec  string `json:"video_codec"`
	AudioCodec  string `json:"audio_codec"`

	Title    string `json:"title"`
	Year     int    `json:"year"`
	Chapters string `json:"-" gorm:"type:text"` // JSON-encoded chapter list

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Streams   []MediaStream      `json:"streams,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	Subtitles []ExternalSubtitle `json:"subtitles,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

// MediaStream is one elementary stream inside a media item. The stream set
// of an item is replaced atomically whenever the item is re-probed.
type MediaStream struct {
	ID          uint   `json:"id" gorm:"primarykey"`
	MediaItemID uint   `json:"media_item_id" gorm:"index;not null"`
	StreamIndex int    `json:"stream_index"`
	Type        string `json:"type"` // video, audio, subtitle
	Codec       string `json:"codec"`
	CodecLong   string `json:"codec_long"`
	Profile     string `json:"profile"`
	Language    string `json:"language"`
	Title       string `json:"title"`
	IsDefault   bool   `json:"is_default"`
	IsForced    bool   `json:"is_forced"`

	// Video
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	FrameRate      string `json:"frame_rate,omitempty"`
	PixelFormat    string `json:"pixel_format,omitempty"`
	BitDepth       int    `json:"bit_depth,omitempty"`
	ColorSpace     string `json:"color_space,omitempty"`
	ColorTransfer  string `json:"color_transfer,omitempty"`
	ColorPrimaries string `json:"color_primaries,omitempty"`

	// Audio
	Channels      int    `json:"channels,omitempty"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`

	BitrateKbps int `json:"bitrate_kbps,omitempty"`
}

// ExternalSubtitle is a subtitle file on disk: either a sidecar found next
// to the media file or a text track extracted from the container.
type ExternalSubtitle struct {
	ID          uint   `json:"id" gorm:"primarykey"`
	MediaItemID uint   `json:"media_item_id" gorm:"index;not null"`
	Path        string `json:"path" gorm:"uniqueIndex;not null"`
	Format      string `json:"format"` // srt, ass, ssa, vtt, ...
	Language    string `json:"language"`
	Title       string `json:"title"`
	Forced      bool   `json:"forced"`
	SDH         bool   `json:"sdh"`
	Size        int64  `json:"size"`
	Embedded    bool   `json:"embedded"`
	CreatedAt   time.Time
}

// Show is the root of the TV hierarchy, keyed by a normalized title within
// its library. Enrichment fields stay empty until the enricher fills them.
type Show struct {
	ID              uint   `json:"id" gorm:"primarykey"`
	LibraryID       uint   `json:"library_id" gorm:"index;not null"`
	Title           string `json:"title"`
	NormalizedTitle string `json:"-" gorm:"index"`
	Year            int    `json:"year"`

	Overview      string     `json:"overview"`
	Rating        float64    `json:"rating"`
	ContentRating string     `json:"content_rating"`
	RemoteID      int64      `json:"remote_id" gorm:"index"`
	Poster        string     `json:"poster"`
	Backdrop      string     `json:"backdrop"`
	Genres        string     `json:"genres"` // JSON-encoded list
	FetchedAt     *time.Time `json:"fetched_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Seasons []Season `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

// Season groups episodes of a show by season number.
type Season struct {
	ID     uint `json:"id" gorm:"primarykey"`
	ShowID uint `json:"show_id" gorm:"index:idx_show_season,unique;not null"`
	Number int  `json:"number" gorm:"index:idx_show_season,unique"`

	Episodes []Episode `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

// Episode links a media item into (show, season, episode number).
type Episode struct {
	ID          uint   `json:"id" gorm:"primarykey"`
	SeasonID    uint   `json:"season_id" gorm:"index;not null"`
	ShowID      uint   `json:"show_id" gorm:"index;not null"`
	MediaItemID uint   `json:"media_item_id" gorm:"uniqueIndex;not null"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Overview    string `json:"overview"`
	AirDate     string `json:"air_date"`
	Still       string `json:"still"`
}

// Movie is the enrichment extension of a movie-kind media item. A skeleton
// row is inserted at discovery; the enricher fills the rest.
type Movie struct {
	ID          uint   `json:"id" gorm:"primarykey"`
	MediaItemID uint   `json:"media_item_id" gorm:"uniqueIndex;not null"`
	Title       string `json:"title"`
	Year        int    `json:"year"`

	Overview      string     `json:"overview"`
	Tagline       string     `json:"tagline"`
	Rating        float64    `json:"rating"`
	ContentRating string     `json:"content_rating"`
	RemoteID      int64      `json:"remote_id" gorm:"index"`
	Poster        string     `json:"poster"`
	Backdrop      string     `json:"backdrop"`
	Genres        string     `json:"genres"` // JSON-encoded list
	FetchedAt     *time.Time `json:"fetched_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlaybackProgress is the per (user, media item) resume position.
type PlaybackProgress struct {
	ID           uint      `json:"id" gorm:"primarykey"`
	UserID       uint      `json:"user_id" gorm:"index:idx_user_media,unique;not null"`
	MediaItemID  uint      `json:"media_item_id" gorm:"index:idx_user_media,unique;not null"`
	PositionMs   int64     `json:"position_ms"`
	Completed    bool      `json:"completed"`
	PlayCount    int       `json:"play_count"`
	LastPlayedAt time.Time `json:"last_played_at"`
}
