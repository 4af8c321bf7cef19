package mediafile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbeJSON = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "hevc",
      "codec_long_name": "H.265 / HEVC",
      "codec_type": "video",
      "profile": "Main 10",
      "width": 3840,
      "height": 2160,
      "r_frame_rate": "24000/1001",
      "pix_fmt": "yuv420p10le",
      "bits_per_raw_sample": "10",
      "color_space": "bt2020nc",
      "color_transfer": "smpte2084",
      "color_primaries": "bt2020",
      "disposition": {"default": 1, "forced": 0}
    },
    {
      "index": 1,
      "codec_name": "dts",
      "codec_type": "audio",
      "channels": 6,
      "channel_layout": "5.1(side)",
      "sample_rate": "48000",
      "bit_rate": "1536000",
      "disposition": {"default": 1, "forced": 0},
      "tags": {"language": "eng", "title": "Surround"}
    },
    {
      "index": 2,
      "codec_name": "subrip",
      "codec_type": "subtitle",
      "disposition": {"default": 0, "forced": 1},
      "tags": {"language": "eng"}
    },
    {
      "index": 3,
      "codec_name": "bin_data",
      "codec_type": "data"
    }
  ],
  "format": {
    "format_name": "matroska,webm",
    "duration": "7265.384000",
    "bit_rate": "25483291"
  },
  "chapters": [
    {"start_time": "0.000000", "end_time": "300.500000", "tags": {"title": "Opening"}}
  ]
}`

func TestParseFFprobeJSON(t *testing.T) {
	res, err := ParseFFprobeJSON([]byte(sampleProbeJSON))
	require.NoError(t, err)

	assert.Equal(t, "matroska", res.Container)
	assert.Equal(t, int64(7265384), res.DurationMs)
	assert.Equal(t, 25483, res.BitrateKbps)
	assert.Equal(t, "hevc", res.VideoCodec)
	assert.Equal(t, "dts", res.AudioCodec)
	assert.Equal(t, 3840, res.Width)
	assert.Equal(t, 2160, res.Height)

	// Data streams are dropped.
	require.Len(t, res.Streams, 3)

	v := res.VideoStream()
	require.NotNil(t, v)
	assert.Equal(t, 10, v.BitDepth)
	assert.Equal(t, "smpte2084", v.ColorTransfer)
	assert.Equal(t, "bt2020", v.ColorPrimaries)
	assert.True(t, v.Default)

	a := res.AudioStream()
	require.NotNil(t, a)
	assert.Equal(t, 6, a.Channels)
	assert.Equal(t, 48000, a.SampleRate)
	assert.Equal(t, 1536, a.BitrateKbps)
	assert.Equal(t, "eng", a.Language)

	subs := res.SubtitleStreams()
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Forced)

	require.Len(t, res.Chapters, 1)
	assert.Equal(t, int64(300500), res.Chapters[0].EndMs)
	assert.Equal(t, "Opening", res.Chapters[0].Title)
}

func TestParseFFprobeJSONInvalid(t *testing.T) {
	_, err := ParseFFprobeJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestFrameRateFloat(t *testing.T) {
	assert.InDelta(t, 23.976, FrameRateFloat("24000/1001"), 0.001)
	assert.InDelta(t, 25.0, FrameRateFloat("25/1"), 0.001)
	assert.InDelta(t, 29.97, FrameRateFloat("29.97"), 0.001)
	assert.Zero(t, FrameRateFloat("0/0"))
	assert.Zero(t, FrameRateFloat("garbage"))
}

func TestMatchesKind(t *testing.T) {
	assert.True(t, MatchesKind("/m/movie.MKV", "movie"))
	assert.True(t, MatchesKind("/m/song.flac", "music"))
	assert.False(t, MatchesKind("/m/movie.mkv", "music"))
	assert.False(t, MatchesKind("/m/notes.txt", "movie"))
}
