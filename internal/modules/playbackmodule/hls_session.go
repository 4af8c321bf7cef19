package playbackmodule

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/mediafile"
)

// Encoder failures that retrying cannot fix. A variant whose stderr matches
// one of these is marked failed instead of being restarted forever. Matched
// case-insensitively against each stderr line.
var fatalStderrPatterns = []string{
	"no such file",
	"permission denied",
	"disk quota exceeded",
	"no space left",
	"invalid data found when processing input",
	"moov atom not found",
	"end of file",
	"error opening",
	"conversion failed",
	"unknown encoder",
	"no capable devices found",
}

const (
	initWaitTimeout     = 30 * time.Second
	initPollInterval    = 100 * time.Millisecond
	segmentWaitTimeout  = 30 * time.Second
	segmentPollEvery    = 500 * time.Millisecond
	playlistWaitTimeout = 15 * time.Second

	// Destroy escalation: term, then kill.
	stopGrace = 2 * time.Second
)

// variantProc is one quality tier's encoder run and its output directory.
type variantProc struct {
	height int
	dir    string

	mu          sync.Mutex
	cmd         *exec.Cmd
	cancel      context.CancelFunc
	startNumber int
	failed      bool
	failReason  string
	lastRequest time.Time
	done        chan struct{}
}

// Session is one HLS playback session: a directory of per-variant encoder
// output plus the processes filling it. Sessions are owned by a
// (media, playback session) pair and reaped when idle.
type Session struct {
	ID       string
	OwnerKey string
	MediaID  uint

	item        *database.MediaItem
	video       *mediafile.Stream
	encoder     Encoder
	ffmpegPath  string
	segmentSecs int
	dir         string
	slots       *Transcoder
	log         hclog.Logger

	mu         sync.Mutex
	lastAccess time.Time
	heights    []int
	variants   map[int]*variantProc
}

func newSession(id, ownerKey string, item *database.MediaItem, video *mediafile.Stream, enc Encoder, ffmpegPath string, segmentSecs int, dir string, slots *Transcoder, log hclog.Logger) *Session {
	sourceHeight := 0
	if video != nil {
		sourceHeight = video.Height
	}
	s := &Session{
		ID:          id,
		OwnerKey:    ownerKey,
		MediaID:     item.ID,
		item:        item,
		video:       video,
		encoder:     enc,
		ffmpegPath:  ffmpegPath,
		segmentSecs: segmentSecs,
		dir:         dir,
		slots:       slots,
		log:         log,
		lastAccess:  time.Now(),
		heights:     LadderFor(sourceHeight),
		variants:    make(map[int]*variantProc),
	}
	for _, h := range s.heights {
		s.variants[h] = &variantProc{
			height: h,
			dir:    filepath.Join(dir, strconv.Itoa(h)),
		}
	}
	return s
}

// Touch refreshes the session's idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// IdleFor reports how long the session has gone without a request.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastAccess)
}

// MasterPlaylist renders the session's master playlist.
func (s *Session) MasterPlaylist() string {
	w, h := 0, 0
	if s.video != nil {
		w, h = s.video.Width, s.video.Height
	}
	return BuildMasterPlaylist(w, h, s.heights)
}

// Variant resolves a tier height to its process record.
func (s *Session) Variant(height int) (*variantProc, bool) {
	v, ok := s.variants[height]
	return v, ok
}

// segmentNumber maps a time offset to its segment index.
func (s *Session) segmentNumber(secs float64) int {
	n := int(secs) / s.segmentSecs
	if n < 0 {
		n = 0
	}
	return n
}

// EnsureVariant makes sure an encoder is producing segments that will cover
// fromSegment. A running encoder whose start is at most one segment ahead of
// the request keeps running; the player is just rebuffering near the live
// edge. Anything else restarts the encoder at the requested segment.
func (s *Session) EnsureVariant(ctx context.Context, height, fromSegment int) error {
	v, ok := s.variants[height]
	if !ok {
		return fmt.Errorf("no %dp variant in session %s", height, s.ID)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastRequest = time.Now()

	if v.failed {
		return fmt.Errorf("variant %dp failed: %s", height, v.failReason)
	}
	if v.cmd != nil {
		// Reuse heuristic: the encoder keeps running when the request is at
		// most one segment behind its start, just ahead of it, or already on
		// disk from this run. Anything further is a real seek and restarts.
		near := fromSegment >= v.startNumber-1 && fromSegment <= v.startNumber+3
		if near || s.segmentOnDisk(v, fromSegment) || (fromSegment > 0 && s.segmentOnDisk(v, fromSegment-1)) {
			return nil
		}
		s.stopLocked(v)
	} else if fromSegment >= v.startNumber && s.segmentOnDisk(v, fromSegment) {
		// Encoder was reaped but already produced this segment.
		return nil
	}
	return s.startLocked(ctx, v, fromSegment)
}

func (s *Session) segmentOnDisk(v *variantProc, segNum int) bool {
	name := fmt.Sprintf("seg_%03d.m4s", segNum)
	fi, err := os.Stat(filepath.Join(v.dir, name))
	if err != nil || fi.Size() == 0 {
		return false
	}
	data, err := os.ReadFile(filepath.Join(v.dir, "playlist.m3u8"))
	return err == nil && SegmentListed(string(data), name)
}

// startLocked launches the encoder for a variant. Caller holds v.mu. Each
// running encoder holds one transcode slot from the shared pool; the slot is
// returned when the process exits.
func (s *Session) startLocked(ctx context.Context, v *variantProc, fromSegment int) error {
	if !s.slots.AcquireSlot(ctx) {
		return ErrEncoderBusy
	}
	if err := os.MkdirAll(v.dir, 0o755); err != nil {
		s.slots.ReleaseSlot()
		return err
	}

	height := v.height
	if s.video != nil && height == s.video.Height {
		height = 0 // native tier, no scale filter
	}
	args := BuildHLSArgs(HLSVariantRequest{
		Item:        s.item,
		Video:       s.video,
		Encoder:     s.encoder,
		Height:      height,
		SegmentSecs: s.segmentSecs,
		StartSecs:   float64(fromSegment * s.segmentSecs),
		StartNumber: fromSegment,
		OutDir:      v.dir,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(runCtx, s.ffmpegPath, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = stopGrace
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		s.slots.ReleaseSlot()
		return err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		s.slots.ReleaseSlot()
		return fmt.Errorf("failed to start variant encoder: %w", err)
	}

	v.cmd = cmd
	v.cancel = cancel
	v.startNumber = fromSegment
	v.done = make(chan struct{})
	s.log.Info("variant encoder started",
		"session", s.ID, "height", v.height, "segment", fromSegment, "pid", cmd.Process.Pid)

	go s.superviseVariant(v, cmd, stderr)
	return nil
}

// superviseVariant watches a variant's stderr for fatal errors and reaps the
// process when it exits.
func (s *Session) superviseVariant(v *variantProc, cmd *exec.Cmd, stderr io.Reader) {
	var lastLines []string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		lastLines = append(lastLines, line)
		if len(lastLines) > 8 {
			lastLines = lastLines[1:]
		}
		lower := strings.ToLower(line)
		for _, pattern := range fatalStderrPatterns {
			if strings.Contains(lower, pattern) {
				v.mu.Lock()
				v.failed = true
				v.failReason = line
				v.mu.Unlock()
				s.log.Error("variant encoder hit fatal error",
					"session", s.ID, "height", v.height, "line", line)
			}
		}
	}

	err := cmd.Wait()
	s.slots.ReleaseSlot()
	v.mu.Lock()
	if v.cmd == cmd {
		v.cmd = nil
		v.cancel = nil
		close(v.done)
		v.done = nil
	}
	failed := v.failed
	v.mu.Unlock()

	if err != nil && !failed {
		s.log.Warn("variant encoder exited",
			"session", s.ID, "height", v.height, "error", err,
			"stderr", strings.Join(lastLines, " | "))
	}
}

// stopLocked terminates a variant's encoder. Caller holds v.mu.
func (s *Session) stopLocked(v *variantProc) {
	if v.cancel == nil {
		return
	}
	done := v.done
	v.cancel()
	v.cancel = nil
	v.cmd = nil
	if done != nil {
		v.mu.Unlock()
		select {
		case <-done:
		case <-time.After(stopGrace + time.Second):
		}
		v.mu.Lock()
	}
}

// SeekTo prepares one variant for playback from secs, restarting its encoder
// unless the target is already covered. Only the requested variant moves;
// the player switching tiers later restarts those lazily.
func (s *Session) SeekTo(ctx context.Context, height int, secs float64) (int, error) {
	segNum := s.segmentNumber(secs)
	if err := s.EnsureVariant(ctx, height, segNum); err != nil {
		return 0, err
	}
	return segNum, nil
}

// VariantPlaylist reads the encoder-written playlist and rewrites its URIs
// against base, carrying the caller's query string onto each one. Starts the
// variant's encoder on first use. Waits for the first segment entry to
// appear; past the deadline a header-only playlist is returned as-is so the
// player can start polling.
func (s *Session) VariantPlaylist(ctx context.Context, height int, base, rawQuery string) (string, error) {
	v, ok := s.variants[height]
	if !ok {
		return "", fmt.Errorf("no %dp variant in session %s", height, s.ID)
	}
	if err := s.EnsureVariant(ctx, height, currentStart(v)); err != nil {
		return "", err
	}

	path := filepath.Join(v.dir, "playlist.m3u8")
	deadline := time.Now().Add(playlistWaitTimeout)
	for {
		data, err := os.ReadFile(path)
		if err == nil && strings.Contains(string(data), "#EXTINF:") {
			return RewriteVariantPlaylist(string(data), base, rawQuery), nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return "", fmt.Errorf("timed out waiting for playlist in session %s", s.ID)
			}
			return RewriteVariantPlaylist(string(data), base, rawQuery), nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(initPollInterval):
		}
	}
}

func currentStart(v *variantProc) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.startNumber
}

// ServeInit waits for and returns the path of a variant's init segment.
func (s *Session) ServeInit(ctx context.Context, height int) (string, error) {
	v, ok := s.variants[height]
	if !ok {
		return "", fmt.Errorf("no %dp variant in session %s", height, s.ID)
	}
	if err := s.EnsureVariant(ctx, height, currentStart(v)); err != nil {
		return "", err
	}
	path := filepath.Join(v.dir, "init.mp4")
	deadline := time.Now().Add(initWaitTimeout)
	for {
		if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
			return path, nil
		}
		if v.isFailed() {
			return "", fmt.Errorf("variant %dp failed", height)
		}
		if !v.running() {
			// One last look: the file may have landed as the process exited.
			if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
				return path, nil
			}
			return "", fmt.Errorf("variant %dp encoder exited before writing init.mp4", height)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for init.mp4")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(initPollInterval):
		}
	}
}

// ServeSegment waits for a media segment to be complete and returns its
// path. Completeness means the playlist lists it, not just that the file
// exists.
func (s *Session) ServeSegment(ctx context.Context, height int, name string) (string, error) {
	segNum, err := parseSegmentName(name)
	if err != nil {
		return "", err
	}
	v, ok := s.variants[height]
	if !ok {
		return "", fmt.Errorf("no %dp variant in session %s", height, s.ID)
	}
	if err := s.EnsureVariant(ctx, height, segNum); err != nil {
		return "", err
	}

	deadline := time.Now().Add(segmentWaitTimeout)
	for {
		if s.segmentOnDisk(v, segNum) {
			return filepath.Join(v.dir, name), nil
		}
		if v.isFailed() {
			return "", fmt.Errorf("variant %dp failed", height)
		}
		if !v.running() {
			// Flushed output may have committed the segment on exit.
			if s.segmentOnDisk(v, segNum) {
				return filepath.Join(v.dir, name), nil
			}
			return "", fmt.Errorf("variant %dp encoder exited before producing %s", height, name)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for %s", name)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(segmentPollEvery):
		}
	}
}

func (v *variantProc) isFailed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.failed
}

// running reports whether the variant's encoder process is alive. Waiters
// use it to bail out the moment a child dies instead of polling out the
// full wait window.
func (v *variantProc) running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cmd != nil
}

// ReapIdleEncoders stops encoders that have gone unrequested. The session
// and its segments survive; a later request restarts the encoder in place.
func (s *Session) ReapIdleEncoders(idle time.Duration) {
	for _, v := range s.variants {
		v.mu.Lock()
		if v.cmd != nil && time.Since(v.lastRequest) > idle {
			s.log.Debug("reaping idle variant encoder", "session", s.ID, "height", v.height)
			s.stopLocked(v)
		}
		v.mu.Unlock()
	}
}

// Destroy stops every encoder and removes the session directory.
func (s *Session) Destroy() {
	for _, v := range s.variants {
		v.mu.Lock()
		s.stopLocked(v)
		v.mu.Unlock()
	}
	if err := os.RemoveAll(s.dir); err != nil {
		s.log.Warn("failed to remove session dir", "session", s.ID, "error", err)
	}
}

func parseSegmentName(name string) (int, error) {
	if !strings.HasPrefix(name, "seg_") || !strings.HasSuffix(name, ".m4s") {
		return 0, fmt.Errorf("invalid segment name %q", name)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "seg_"), ".m4s"))
	if err != nil {
		return 0, fmt.Errorf("invalid segment name %q", name)
	}
	return n, nil
}
