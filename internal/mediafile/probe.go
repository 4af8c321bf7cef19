package mediafile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ferrite-media/ferrite/internal/logger"
)

// Stream is a normalized elementary stream from the inspector.
type Stream struct {
	Index     int
	Type      string // video, audio, subtitle
	Codec     string
	CodecLong string
	Profile   string
	Language  string
	Title     string
	Default   bool
	Forced    bool

	// Video
	Width          int
	Height         int
	FrameRate      string
	PixelFormat    string
	BitDepth       int
	ColorSpace     string
	ColorTransfer  string
	ColorPrimaries string

	// Audio
	Channels      int
	ChannelLayout string
	SampleRate    int

	BitrateKbps int
}

// Chapter is an embedded chapter marker.
type Chapter struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Title   string `json:"title,omitempty"`
}

// ProbeResult is the normalized snapshot of one media file.
type ProbeResult struct {
	Container   string
	DurationMs  int64
	BitrateKbps int
	Streams     []Stream
	Chapters    []Chapter

	VideoCodec string // first video stream's codec
	AudioCodec string // first audio stream's codec
	Width      int
	Height     int
}

// FrameRateFloat parses an "N/D" rational frame rate string.
func FrameRateFloat(r string) float64 {
	parts := strings.SplitN(r, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	f, _ := strconv.ParseFloat(r, 64)
	return f
}

// VideoStream returns the first video stream, or nil.
func (p *ProbeResult) VideoStream() *Stream {
	for i := range p.Streams {
		if p.Streams[i].Type == "video" {
			return &p.Streams[i]
		}
	}
	return nil
}

// AudioStream returns the first audio stream, or nil.
func (p *ProbeResult) AudioStream() *Stream {
	for i := range p.Streams {
		if p.Streams[i].Type == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

// SubtitleStreams returns all subtitle streams.
func (p *ProbeResult) SubtitleStreams() []Stream {
	var out []Stream
	for _, s := range p.Streams {
		if s.Type == "subtitle" {
			out = append(out, s)
		}
	}
	return out
}

// ffprobe JSON wire shapes.
type probeOutput struct {
	Streams  []probeStream  `json:"streams"`
	Format   probeFormat    `json:"format"`
	Chapters []probeChapter `json:"chapters"`
}

type probeStream struct {
	Index            int    `json:"index"`
	CodecName        string `json:"codec_name"`
	CodecLongName    string `json:"codec_long_name"`
	CodecType        string `json:"codec_type"`
	Profile          string `json:"profile"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	RFrameRate       string `json:"r_frame_rate"`
	PixFmt           string `json:"pix_fmt"`
	BitsPerRawSample string `json:"bits_per_raw_sample"`
	ColorSpace       string `json:"color_space"`
	ColorTransfer    string `json:"color_transfer"`
	ColorPrimaries   string `json:"color_primaries"`
	Channels         int    `json:"channels"`
	ChannelLayout    string `json:"channel_layout"`
	SampleRate       string `json:"sample_rate"`
	BitRate          string `json:"bit_rate"`
	Disposition      struct {
		Default int `json:"default"`
		Forced  int `json:"forced"`
	} `json:"disposition"`
	Tags struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type probeChapter struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Tags      struct {
		Title string `json:"title"`
	} `json:"tags"`
}

// Prober invokes the external inspector binary.
type Prober struct {
	ffprobePath string
}

// NewProber creates a prober using the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath}
}

// Probe inspects the file and returns a normalized snapshot. On inspector
// failure it returns an empty (non-nil) result so the caller can still
// register the file and retry the probe on a later scan.
func (p *Prober) Probe(ctx context.Context, path string) *ProbeResult {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_chapters",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logger.Warn("ffprobe failed", "path", path, "error", err, "stderr", tail(stderr.String(), 512))
		return &ProbeResult{}
	}

	var raw probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		logger.Warn("ffprobe produced unparseable output", "path", path, "error", err)
		return &ProbeResult{}
	}
	return normalize(&raw)
}

func normalize(raw *probeOutput) *ProbeResult {
	res := &ProbeResult{
		Container:   firstToken(raw.Format.FormatName),
		DurationMs:  secondsToMs(raw.Format.Duration),
		BitrateKbps: bpsToKbps(raw.Format.BitRate),
	}

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video", "audio", "subtitle":
		default:
			continue
		}
		st := Stream{
			Index:          s.Index,
			Type:           s.CodecType,
			Codec:          s.CodecName,
			CodecLong:      s.CodecLongName,
			Profile:        s.Profile,
			Language:       s.Tags.Language,
			Title:          s.Tags.Title,
			Default:        s.Disposition.Default == 1,
			Forced:         s.Disposition.Forced == 1,
			Width:          s.Width,
			Height:         s.Height,
			FrameRate:      s.RFrameRate,
			PixelFormat:    s.PixFmt,
			ColorSpace:     s.ColorSpace,
			ColorTransfer:  s.ColorTransfer,
			ColorPrimaries: s.ColorPrimaries,
			Channels:       s.Channels,
			ChannelLayout:  s.ChannelLayout,
			BitrateKbps:    bpsToKbps(s.BitRate),
		}
		if n, err := strconv.Atoi(s.BitsPerRawSample); err == nil {
			st.BitDepth = n
		}
		if n, err := strconv.Atoi(s.SampleRate); err == nil {
			st.SampleRate = n
		}
		res.Streams = append(res.Streams, st)

		if s.CodecType == "video" && res.VideoCodec == "" {
			res.VideoCodec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
		}
		if s.CodecType == "audio" && res.AudioCodec == "" {
			res.AudioCodec = s.CodecName
		}
	}

	for _, c := range raw.Chapters {
		res.Chapters = append(res.Chapters, Chapter{
			StartMs: secondsToMs(c.StartTime),
			EndMs:   secondsToMs(c.EndTime),
			Title:   c.Tags.Title,
		})
	}
	return res
}

// firstToken returns the first entry of a comma-separated format_name like
// "mov,mp4,m4a,3gp,3g2,mj2".
func firstToken(formatName string) string {
	if i := strings.IndexByte(formatName, ','); i >= 0 {
		return formatName[:i]
	}
	return formatName
}

func secondsToMs(s string) int64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f * 1000)
}

func bpsToKbps(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n / 1000
}

func tail(s string, max int) string {
	if len(s) <= max {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[len(s)-max:])
}

// ParseFFprobeJSON is exposed for tests and for callers that already hold
// inspector output.
func ParseFFprobeJSON(data []byte) (*ProbeResult, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid ffprobe output: %w", err)
	}
	return normalize(&raw), nil
}
