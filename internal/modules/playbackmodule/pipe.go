package playbackmodule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"github.com/ferrite-media/ferrite/internal/logger"
)

// ErrEncoderBusy is returned when no encoder slot frees up within the queue
// window. Every encoder-spawning path, pipe and HLS alike, draws from the
// same slot pool; callers map this to 503.
var ErrEncoderBusy = errors.New("all transcode slots busy")

// pipeChunkSize is the copy buffer for streaming encoder output. Small
// enough that a paused client stops the encoder quickly through pipe
// backpressure.
const pipeChunkSize = 64 * 1024

// Transcoder runs progressive pipe transcodes. A weighted semaphore bounds
// concurrent encoder processes; callers queue up to the configured wait
// before giving up.
type Transcoder struct {
	ffmpegPath string
	detector   *HardwareDetector
	slots      *semaphore.Weighted
	queueWait  time.Duration
	log        hclog.Logger
}

// NewTranscoder creates the pipe transcoder.
func NewTranscoder(ffmpegPath string, detector *HardwareDetector, maxConcurrent int, queueWait time.Duration) *Transcoder {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Transcoder{
		ffmpegPath: ffmpegPath,
		detector:   detector,
		slots:      semaphore.NewWeighted(int64(maxConcurrent)),
		queueWait:  queueWait,
		log:        logger.Named("transcoder"),
	}
}

// AcquireSlot waits up to the queue window for an encoder slot. Returns
// false when the server is saturated; the caller responds 503.
func (t *Transcoder) AcquireSlot(ctx context.Context) bool {
	waitCtx, cancel := context.WithTimeout(ctx, t.queueWait)
	defer cancel()
	return t.slots.Acquire(waitCtx, 1) == nil
}

// ReleaseSlot returns an encoder slot.
func (t *Transcoder) ReleaseSlot() { t.slots.Release(1) }

// Stream runs ffmpeg and copies its stdout into the response as a chunked
// body. The encoder is killed as soon as the client goes away: the request
// context cancels the process, and a write error aborts the copy loop.
// Callers hold an encoder slot for the duration.
func (t *Transcoder) Stream(w http.ResponseWriter, r *http.Request, pr PipeRequest) error {
	ctx := r.Context()
	args := BuildPipeArgs(pr)

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	cmd.WaitDelay = 100 * time.Millisecond
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start encoder: %w", err)
	}
	t.log.Info("pipe transcode started",
		"path", pr.Item.Path,
		"decision", string(pr.Decision),
		"seek", pr.SeekSecs,
		"pid", cmd.Process.Pid)

	_, mime := pr.OutputFormat()
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Seek-Actual", formatSecs(pr.SeekSecs))
	totalSecs := float64(pr.Item.DurationMs) / 1000
	w.Header().Set("X-Total-Duration", formatSecs(totalSecs))
	w.Header().Set("X-Content-Duration", formatSecs(totalSecs-pr.SeekSecs))
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, pipeChunkSize)
	copyErr := copyFlush(w, stdout, buf, flusher)

	waitErr := cmd.Wait()
	switch {
	case ctx.Err() != nil:
		t.log.Debug("client disconnected, encoder killed", "path", pr.Item.Path, "pid", cmd.Process.Pid)
		return nil
	case copyErr != nil:
		return nil // client write failure, already logged by the server
	case waitErr != nil:
		t.log.Error("encoder exited with error",
			"path", pr.Item.Path,
			"error", waitErr,
			"stderr", tailString(stderr.String(), 512))
		return waitErr
	}
	return nil
}

func copyFlush(dst io.Writer, src io.Reader, buf []byte, flusher http.Flusher) error {
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ServeDirect serves the file as-is with range support.
func ServeDirect(w http.ResponseWriter, r *http.Request, path string, durationMs int64) {
	w.Header().Set("X-Total-Duration", strconv.FormatFloat(float64(durationMs)/1000, 'f', 3, 64))
	http.ServeFile(w, r, path)
}

func tailString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
