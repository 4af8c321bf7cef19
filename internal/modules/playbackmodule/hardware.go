package playbackmodule

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/ferrite-media/ferrite/internal/logger"
)

// Encoder identifies a video encoder backend.
type Encoder string

const (
	EncoderNVENC    Encoder = "nvenc"
	EncoderQSV      Encoder = "qsv"
	EncoderVAAPI    Encoder = "vaapi"
	EncoderSoftware Encoder = "software"
)

// HardwareDetector probes the encoder binary once for available hardware
// encoders and caches the result.
type HardwareDetector struct {
	ffmpegPath string
	preference string // config override: nvenc, qsv, vaapi, software, auto

	once    sync.Once
	encoder Encoder
}

// NewHardwareDetector creates a detector honoring the configured preference.
func NewHardwareDetector(ffmpegPath, preference string) *HardwareDetector {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &HardwareDetector{ffmpegPath: ffmpegPath, preference: preference}
}

// Pick returns the encoder backend to use, detecting on first call.
func (d *HardwareDetector) Pick(ctx context.Context) Encoder {
	d.once.Do(func() {
		d.encoder = d.detect(ctx)
		logger.Info("video encoder selected", "encoder", string(d.encoder))
	})
	return d.encoder
}

func (d *HardwareDetector) detect(ctx context.Context) Encoder {
	switch d.preference {
	case "nvenc":
		return EncoderNVENC
	case "qsv":
		return EncoderQSV
	case "vaapi":
		return EncoderVAAPI
	case "software":
		return EncoderSoftware
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-hide_banner", "-encoders")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		logger.Warn("encoder detection failed, using software", "error", err)
		return EncoderSoftware
	}
	return PickFromEncoderList(stdout.String())
}

// PickFromEncoderList chooses the best available backend from `-encoders`
// output. Preference order: NVENC, QSV, VAAPI, software.
func PickFromEncoderList(output string) Encoder {
	switch {
	case strings.Contains(output, "h264_nvenc"):
		return EncoderNVENC
	case strings.Contains(output, "h264_qsv"):
		return EncoderQSV
	case strings.Contains(output, "h264_vaapi"):
		return EncoderVAAPI
	default:
		return EncoderSoftware
	}
}

// IsHardware reports whether the backend offloads encoding.
func (e Encoder) IsHardware() bool {
	return e != EncoderSoftware
}

// InputArgs returns decoder-side arguments placed before -i.
func (e Encoder) InputArgs() []string {
	switch e {
	case EncoderNVENC:
		return []string{"-hwaccel", "cuda"}
	case EncoderQSV:
		return []string{"-hwaccel", "qsv"}
	case EncoderVAAPI:
		return []string{"-hwaccel", "vaapi", "-vaapi_device", "/dev/dri/renderD128"}
	default:
		return nil
	}
}

// H264Args returns encoder-side arguments for H.264 output. When a filter
// chain already pins the pixel format, withPixFmt must be false; ffmpeg
// rejects -pix_fmt combined with a format filter on some backends.
func (e Encoder) H264Args(withPixFmt bool) []string {
	var args []string
	switch e {
	case EncoderNVENC:
		args = []string{"-c:v", "h264_nvenc", "-preset", "p4", "-rc", "vbr"}
	case EncoderQSV:
		args = []string{"-c:v", "h264_qsv", "-preset", "medium"}
	case EncoderVAAPI:
		args = []string{"-c:v", "h264_vaapi"}
	default:
		args = []string{"-c:v", "libx264", "-preset", "veryfast"}
	}
	if withPixFmt && e != EncoderVAAPI {
		args = append(args, "-pix_fmt", "yuv420p")
	}
	return args
}
