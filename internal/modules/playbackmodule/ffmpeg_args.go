package playbackmodule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/mediafile"
)

// toneMapChain converts HDR sources to SDR BT.709: linearize, tone-map with
// the hable operator, then back to 8-bit yuv420p. The final format filter
// replaces -pix_fmt on the encoder side.
const toneMapChain = "zscale=t=linear:npl=100,format=gbrpf32le," +
	"zscale=p=bt709,tonemap=tonemap=hable:desat=0," +
	"zscale=t=bt709:m=bt709:r=tv,format=yuv420p"

// ToneMapRequired reports whether a video stream needs HDR to SDR conversion:
// a 10-bit stream carrying PQ or HLG transfer, or BT.2020 primaries.
func ToneMapRequired(s *mediafile.Stream) bool {
	if s == nil || s.BitDepth != 10 {
		return false
	}
	switch s.ColorTransfer {
	case "smpte2084", "arib-std-b67":
		return true
	}
	return s.ColorPrimaries == "bt2020"
}

// PipeRequest describes one progressive (non-HLS) transcode run whose output
// goes to stdout.
type PipeRequest struct {
	Item         *database.MediaItem
	Video        *mediafile.Stream // nil when the probe failed
	Decision     Decision
	SeekSecs     float64 // already keyframe-snapped for copy paths
	Encoder      Encoder
	AudioStream  int    // zero-based audio stream ordinal
	BurnSubtitle string // subtitle file to burn in, forces full transcode
}

// OutputFormat returns the container format and MIME type for a pipe run.
// VP8/VP9 sources that stay copied keep WebM; everything else is fragmented
// MP4, which browsers accept over a plain progressive response.
func (r PipeRequest) OutputFormat() (format, mime string) {
	if r.Decision != DecisionFullTranscode {
		switch strings.ToLower(r.Item.VideoCodec) {
		case "vp8", "vp9":
			return "webm", "video/webm"
		}
	}
	return "mp4", "video/mp4"
}

// fmp4Flags makes the MP4 muxer emit a streamable fragmented file: no
// trailing moov to wait for, fragments cut on keyframes.
var fmp4Flags = []string{"-movflags", "frag_keyframe+empty_moov+default_base_moof"}

// BuildPipeArgs assembles the ffmpeg argument list for a pipe run. Stream
// copy paths place -ss before -i and disable accurate seek so ffmpeg lands
// on the container keyframe index without decoding; full transcodes also
// seek before input, which is frame accurate when the video is re-encoded.
func BuildPipeArgs(r PipeRequest) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	reencodeVideo := r.Decision == DecisionFullTranscode
	if reencodeVideo && r.Encoder.IsHardware() && !ToneMapRequired(r.Video) && r.BurnSubtitle == "" {
		args = append(args, r.Encoder.InputArgs()...)
	}
	if r.SeekSecs > 0 {
		if !reencodeVideo {
			args = append(args, "-noaccurate_seek")
		}
		args = append(args, "-ss", formatSecs(r.SeekSecs))
	}
	args = append(args, "-i", r.Item.Path)

	audioMap := fmt.Sprintf("0:a:%d?", r.AudioStream)
	switch r.Decision {
	case DecisionRemux:
		args = append(args, "-map", "0:v:0", "-map", audioMap, "-c", "copy")
	case DecisionAudioTranscode:
		args = append(args,
			"-map", "0:v:0", "-map", audioMap,
			"-c:v", "copy",
			"-c:a", "aac", "-b:a", "192k", "-ac", "2",
		)
	default:
		args = append(args, "-map", "0:v:0", "-map", audioMap)
		args = append(args, videoEncodeArgs(r.Encoder, r.Video, r.BurnSubtitle, 0)...)
		args = append(args, "-c:a", "aac", "-b:a", "192k", "-ac", "2")
	}

	format, _ := r.OutputFormat()
	if format == "mp4" {
		args = append(args, fmp4Flags...)
	}
	return append(args, "-f", format, "pipe:1")
}

// videoEncodeArgs builds the filter chain and encoder arguments for a
// re-encoded video stream. height 0 keeps the source resolution.
func videoEncodeArgs(enc Encoder, video *mediafile.Stream, burnSubtitle string, height int) []string {
	var filters []string
	if ToneMapRequired(video) {
		filters = append(filters, toneMapChain)
	}
	if burnSubtitle != "" {
		filters = append(filters, "subtitles="+escapeFilterPath(burnSubtitle))
	}
	if height > 0 {
		filters = append(filters, fmt.Sprintf("scale=-2:%d", height))
	}

	var args []string
	hasFormatFilter := len(filters) > 0 && strings.Contains(filters[0], "format=yuv420p")
	if len(filters) > 0 {
		// Filters run on system frames, which hardware encoders cannot
		// consume without an upload step. The run degrades to libx264.
		args = append(args, "-vf", strings.Join(filters, ","))
		enc = EncoderSoftware
	}
	args = append(args, enc.H264Args(!hasFormatFilter)...)
	return args
}

// GOPArgs forces keyframes at exact segment boundaries by fixing the GOP
// length to one segment. -force_key_frames drifts under variable frame rate;
// a hard GOP does not.
func GOPArgs(segmentSecs int, frameRate string) []string {
	fps := mediafile.FrameRateFloat(frameRate)
	if fps <= 0 {
		fps = 24
	}
	gop := int(fps*float64(segmentSecs) + 0.5)
	if gop < 1 {
		gop = 1
	}
	g := strconv.Itoa(gop)
	return []string{"-g", g, "-keyint_min", g, "-sc_threshold", "0"}
}

// variantAudioBitrate scales audio quality with the video tier.
func variantAudioBitrate(height int) string {
	switch {
	case height >= 1080:
		return "192k"
	case height >= 720:
		return "160k"
	default:
		return "128k"
	}
}

// variantVideoBitrate is the ABR ladder's per-tier video bitrate in kbps.
func variantVideoBitrate(height int) int {
	switch {
	case height >= 2160:
		return 16000
	case height >= 1080:
		return 6000
	case height >= 720:
		return 3500
	case height >= 480:
		return 1800
	default:
		return 900
	}
}

// HLSVariantRequest describes one ffmpeg run producing fMP4 segments for a
// single quality tier.
type HLSVariantRequest struct {
	Item        *database.MediaItem
	Video       *mediafile.Stream
	Encoder     Encoder
	Height      int // 0 means native resolution
	SegmentSecs int
	StartSecs   float64
	StartNumber int
	OutDir      string // variant directory holding playlist and segments
}

// BuildHLSArgs assembles the argument list for one variant's encoder run.
// The native tier of an H.264 SDR source is stream-copied: the segmenter
// cuts on the source's own keyframes, so GOP and rate flags are omitted.
func BuildHLSArgs(r HLSVariantRequest) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	copyVideo := r.Height == 0 && r.Video != nil &&
		strings.EqualFold(r.Video.Codec, "h264") && !ToneMapRequired(r.Video)
	softwareFilters := ToneMapRequired(r.Video) || r.Height > 0
	if r.Encoder.IsHardware() && !softwareFilters && !copyVideo {
		args = append(args, r.Encoder.InputArgs()...)
	}
	if r.StartSecs > 0 {
		if copyVideo {
			args = append(args, "-noaccurate_seek")
		}
		args = append(args, "-ss", formatSecs(r.StartSecs))
	}
	args = append(args, "-i", r.Item.Path, "-map", "0:v:0", "-map", "0:a:0?")

	height := r.Height
	if height == 0 && r.Video != nil {
		height = r.Video.Height
	}
	if copyVideo {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, videoEncodeArgs(r.Encoder, r.Video, "", r.Height)...)

		frameRate := ""
		if r.Video != nil {
			frameRate = r.Video.FrameRate
		}
		args = append(args, GOPArgs(r.SegmentSecs, frameRate)...)

		kbps := variantVideoBitrate(height)
		args = append(args,
			"-b:v", fmt.Sprintf("%dk", kbps),
			"-maxrate", fmt.Sprintf("%dk", kbps*12/10),
			"-bufsize", fmt.Sprintf("%dk", kbps*2),
		)
	}
	args = append(args, "-c:a", "aac", "-b:a", variantAudioBitrate(height), "-ac", "2")

	return append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(r.SegmentSecs),
		"-hls_playlist_type", "event",
		"-hls_segment_type", "fmp4",
		"-hls_fmp4_init_filename", "init.mp4",
		"-hls_flags", "independent_segments+append_list",
		"-start_number", strconv.Itoa(r.StartNumber),
		"-hls_segment_filename", r.OutDir+"/seg_%03d.m4s",
		r.OutDir+"/playlist.m3u8",
	)
}

func formatSecs(secs float64) string {
	return strconv.FormatFloat(secs, 'f', 3, 64)
}

// escapeFilterPath quotes a path for use inside an ffmpeg filter argument.
func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	p = strings.ReplaceAll(p, `'`, `\'`)
	p = strings.ReplaceAll(p, `:`, `\:`)
	return "'" + p + "'"
}
