package playbackmodule

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/mediafile"
)

func hdrStream() *mediafile.Stream {
	return &mediafile.Stream{
		Type:           "video",
		Codec:          "hevc",
		Width:          3840,
		Height:         2160,
		BitDepth:       10,
		ColorTransfer:  "smpte2084",
		ColorPrimaries: "bt2020",
		FrameRate:      "24000/1001",
	}
}

func sdrStream() *mediafile.Stream {
	return &mediafile.Stream{
		Type: "video", Codec: "h264", Width: 1920, Height: 1080, BitDepth: 8, FrameRate: "24/1",
	}
}

func TestToneMapRequired(t *testing.T) {
	assert.True(t, ToneMapRequired(hdrStream()))
	assert.False(t, ToneMapRequired(sdrStream()))
	assert.False(t, ToneMapRequired(nil))

	// 10-bit SDR (e.g. x264 10-bit anime encodes) must not be tone-mapped.
	tenBitSDR := sdrStream()
	tenBitSDR.BitDepth = 10
	assert.False(t, ToneMapRequired(tenBitSDR))

	// HLG counts as HDR.
	hlg := hdrStream()
	hlg.ColorTransfer = "arib-std-b67"
	assert.True(t, ToneMapRequired(hlg))
}

func TestBuildPipeArgsRemuxSeeksBeforeInput(t *testing.T) {
	args := BuildPipeArgs(PipeRequest{
		Item:     &database.MediaItem{Path: "/media/movie.mkv", VideoCodec: "h264"},
		Decision: DecisionRemux,
		SeekSecs: 42.5,
		Encoder:  EncoderSoftware,
	})
	joined := strings.Join(args, " ")

	ss := indexOf(args, "-ss")
	in := indexOf(args, "-i")
	require.GreaterOrEqual(t, ss, 0)
	require.Greater(t, in, ss, "-ss must precede -i for stream copy")
	assert.Contains(t, joined, "-c copy")
	assert.Contains(t, joined, "frag_keyframe+empty_moov+default_base_moof")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestBuildPipeArgsWebMKeepsWebM(t *testing.T) {
	req := PipeRequest{
		Item:     &database.MediaItem{Path: "/media/clip.webm", VideoCodec: "vp9"},
		Decision: DecisionRemux,
		Encoder:  EncoderSoftware,
	}
	format, mime := req.OutputFormat()
	assert.Equal(t, "webm", format)
	assert.Equal(t, "video/webm", mime)

	args := BuildPipeArgs(req)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-f webm")
	assert.NotContains(t, joined, "movflags")
}

func TestBuildPipeArgsToneMapDropsPixFmt(t *testing.T) {
	args := BuildPipeArgs(PipeRequest{
		Item:     &database.MediaItem{Path: "/media/hdr.mkv", VideoCodec: "hevc"},
		Video:    hdrStream(),
		Decision: DecisionFullTranscode,
		Encoder:  EncoderSoftware,
	})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "zscale=t=linear")
	assert.Contains(t, joined, "tonemap=tonemap=hable")
	assert.Contains(t, joined, "format=yuv420p")
	// The filter chain ends in format=yuv420p; -pix_fmt would conflict.
	assert.NotContains(t, args, "-pix_fmt")
}

func TestBuildPipeArgsSDRTranscodeKeepsPixFmt(t *testing.T) {
	args := BuildPipeArgs(PipeRequest{
		Item:     &database.MediaItem{Path: "/media/sd.mkv", VideoCodec: "mpeg4"},
		Video:    sdrStream(),
		Decision: DecisionFullTranscode,
		Encoder:  EncoderSoftware,
	})
	assert.Contains(t, args, "-pix_fmt")
	assert.Contains(t, args, "libx264")
}

func TestGOPArgsMatchSegmentDuration(t *testing.T) {
	args := GOPArgs(2, "24/1")
	assert.Equal(t, []string{"-g", "48", "-keyint_min", "48", "-sc_threshold", "0"}, args)

	// NTSC rate rounds to the nearest frame.
	args = GOPArgs(2, "24000/1001")
	assert.Equal(t, "48", args[1])

	// Unknown frame rate falls back to 24.
	args = GOPArgs(4, "")
	assert.Equal(t, "96", args[1])
}

func TestBuildHLSArgsVariant(t *testing.T) {
	args := BuildHLSArgs(HLSVariantRequest{
		Item:        &database.MediaItem{Path: "/media/show.mkv"},
		Video:       sdrStream(),
		Encoder:     EncoderSoftware,
		Height:      720,
		SegmentSecs: 2,
		StartSecs:   60,
		StartNumber: 30,
		OutDir:      "/tmp/hls/abc/720",
	})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "scale=-2:720")
	assert.Contains(t, joined, "-hls_segment_type fmp4")
	assert.Contains(t, joined, "-start_number 30")
	assert.Contains(t, joined, "-hls_fmp4_init_filename init.mp4")
	assert.Contains(t, joined, "independent_segments+append_list")
	assert.Contains(t, joined, "/tmp/hls/abc/720/seg_%03d.m4s")

	ss := indexOf(args, "-ss")
	in := indexOf(args, "-i")
	require.GreaterOrEqual(t, ss, 0)
	assert.Greater(t, in, ss)
	assert.Equal(t, "60.000", args[ss+1])
}

func TestBuildPipeArgsCopySeekDisablesAccurateSeek(t *testing.T) {
	args := BuildPipeArgs(PipeRequest{
		Item:     &database.MediaItem{Path: "/media/movie.mkv", VideoCodec: "h264"},
		Decision: DecisionRemux,
		SeekSecs: 30,
		Encoder:  EncoderSoftware,
	})
	na := indexOf(args, "-noaccurate_seek")
	ss := indexOf(args, "-ss")
	require.GreaterOrEqual(t, na, 0)
	assert.Greater(t, ss, na)

	// Re-encoded video seeks exactly; accurate seek stays on.
	args = BuildPipeArgs(PipeRequest{
		Item:     &database.MediaItem{Path: "/media/movie.mkv", VideoCodec: "mpeg4"},
		Video:    sdrStream(),
		Decision: DecisionFullTranscode,
		SeekSecs: 30,
		Encoder:  EncoderSoftware,
	})
	assert.NotContains(t, args, "-noaccurate_seek")
}

func TestBuildHLSArgsNativeH264StreamCopies(t *testing.T) {
	args := BuildHLSArgs(HLSVariantRequest{
		Item:        &database.MediaItem{Path: "/media/show.mkv"},
		Video:       sdrStream(),
		Encoder:     EncoderNVENC,
		Height:      0,
		SegmentSecs: 2,
		StartSecs:   10,
		StartNumber: 5,
		OutDir:      "/tmp/hls/abc/1080",
	})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-c:v copy")
	// Copied video keeps the source GOP and bitrate; no encode flags.
	assert.NotContains(t, args, "-g")
	assert.NotContains(t, args, "-b:v")
	assert.NotContains(t, joined, "libx264")
	assert.NotContains(t, joined, "h264_nvenc")
	assert.Contains(t, args, "-noaccurate_seek")

	// An HDR HEVC source cannot be copied into an avc1 ladder.
	args = BuildHLSArgs(HLSVariantRequest{
		Item:        &database.MediaItem{Path: "/media/hdr.mkv"},
		Video:       hdrStream(),
		Encoder:     EncoderSoftware,
		Height:      0,
		SegmentSecs: 2,
		OutDir:      "/tmp/hls/abc/2160",
	})
	joined = strings.Join(args, " ")
	assert.NotContains(t, joined, "-c:v copy")
	assert.Contains(t, joined, "libx264")
}

func TestFilterChainDegradesToSoftwareEncoder(t *testing.T) {
	// A scale filter runs on system frames, so a hardware session cannot
	// encode this variant; the run falls back to libx264.
	args := BuildHLSArgs(HLSVariantRequest{
		Item:        &database.MediaItem{Path: "/media/show.mkv"},
		Video:       sdrStream(),
		Encoder:     EncoderVAAPI,
		Height:      720,
		SegmentSecs: 2,
		OutDir:      "/tmp/hls/abc/720",
	})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "scale=-2:720")
	assert.Contains(t, joined, "libx264")
	assert.NotContains(t, joined, "vaapi")

	// Same for a burned-in subtitle on the pipe path.
	args = BuildPipeArgs(PipeRequest{
		Item:         &database.MediaItem{Path: "/media/movie.mkv", VideoCodec: "h264"},
		Video:        sdrStream(),
		Decision:     DecisionFullTranscode,
		Encoder:      EncoderNVENC,
		BurnSubtitle: "/subs/movie.srt",
	})
	joined = strings.Join(args, " ")
	assert.Contains(t, joined, "subtitles=")
	assert.Contains(t, joined, "libx264")
	assert.NotContains(t, joined, "h264_nvenc")
	assert.NotContains(t, joined, "-hwaccel")
}

func indexOf(args []string, want string) int {
	for i, a := range args {
		if a == want {
			return i
		}
	}
	return -1
}
