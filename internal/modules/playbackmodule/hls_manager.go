package playbackmodule

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/events"
	"github.com/ferrite-media/ferrite/internal/logger"
	"github.com/ferrite-media/ferrite/internal/mediafile"
)

// ErrSessionBusy is returned when another request is already creating a
// session for the same media item. Clients retry after a beat.
var ErrSessionBusy = errors.New("session creation in progress for this media")

// sweepInterval is how often the manager looks for idle sessions.
const sweepInterval = 15 * time.Second

// HLSManager owns every live HLS session. Sessions are keyed two ways: by
// the opaque session id in URLs and by their (media, playback session)
// owner, so a player re-requesting a master playlist lands back in its
// existing session instead of spawning encoders.
type HLSManager struct {
	ffmpegPath     string
	rootDir        string
	segmentSecs    int
	sessionTimeout time.Duration
	encoderIdle    time.Duration
	detector       *HardwareDetector
	transcoder     *Transcoder
	bus            *events.Bus
	log            hclog.Logger

	mu       sync.Mutex
	byID     map[string]*Session
	byOwner  map[string]*Session
	creating map[uint]*semaphore.Weighted
	started  bool

	stop chan struct{}
	done chan struct{}
}

// NewHLSManager creates the session manager. Variant encoders draw slots
// from the shared transcoder pool, so HLS and pipe runs count against the
// same concurrency cap. Call Start to begin sweeping.
func NewHLSManager(ffmpegPath, rootDir string, segmentSecs, sessionTimeoutSecs, encoderIdleSecs int, detector *HardwareDetector, transcoder *Transcoder, bus *events.Bus) *HLSManager {
	if segmentSecs < 1 {
		segmentSecs = 2
	}
	return &HLSManager{
		ffmpegPath:     ffmpegPath,
		rootDir:        rootDir,
		segmentSecs:    segmentSecs,
		sessionTimeout: time.Duration(sessionTimeoutSecs) * time.Second,
		encoderIdle:    time.Duration(encoderIdleSecs) * time.Second,
		detector:       detector,
		transcoder:     transcoder,
		bus:            bus,
		log:            logger.Named("hls"),
		byID:           make(map[string]*Session),
		byOwner:        make(map[string]*Session),
		creating:       make(map[uint]*semaphore.Weighted),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start launches the idle sweeper.
func (m *HLSManager) Start() {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func ownerKey(mediaID uint, playbackSessionID string) string {
	return strconv.FormatUint(uint64(mediaID), 10) + "|" + playbackSessionID
}

// GetOrCreate returns the session owned by (item, playbackSessionID),
// creating it if needed. Creation is serialized per media item with a
// try-acquire: a second concurrent creator gets ErrSessionBusy instead of
// racing to spawn duplicate encoder sets.
func (m *HLSManager) GetOrCreate(ctx context.Context, item *database.MediaItem, video *mediafile.Stream, playbackSessionID string) (*Session, error) {
	key := ownerKey(item.ID, playbackSessionID)

	m.mu.Lock()
	if s, ok := m.byOwner[key]; ok {
		m.mu.Unlock()
		s.Touch()
		return s, nil
	}
	gate, ok := m.creating[item.ID]
	if !ok {
		gate = semaphore.NewWeighted(1)
		m.creating[item.ID] = gate
	}
	m.mu.Unlock()

	if !gate.TryAcquire(1) {
		return nil, ErrSessionBusy
	}
	defer gate.Release(1)

	// Re-check under the gate; the winner of a race created it already.
	m.mu.Lock()
	if s, ok := m.byOwner[key]; ok {
		m.mu.Unlock()
		s.Touch()
		return s, nil
	}
	m.mu.Unlock()

	enc := m.detector.Pick(ctx)
	id := uuid.NewString()
	s := newSession(id, key, item, video, enc, m.ffmpegPath, m.segmentSecs,
		filepath.Join(m.rootDir, id), m.transcoder, m.log)

	m.mu.Lock()
	m.byID[id] = s
	m.byOwner[key] = s
	m.mu.Unlock()

	m.log.Info("hls session created",
		"session", id, "media", item.ID, "path", item.Path, "encoder", string(enc))
	return s, nil
}

// Recreate replaces a session with a fresh one for the same owner. Seeks
// always land in a new session so the old directory never leaks stale
// segments into the new timeline.
func (m *HLSManager) Recreate(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	old, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	m.Destroy(sessionID)

	enc := m.detector.Pick(ctx)
	id := uuid.NewString()
	s := newSession(id, old.OwnerKey, old.item, old.video, enc, m.ffmpegPath, m.segmentSecs,
		filepath.Join(m.rootDir, id), m.transcoder, m.log)

	m.mu.Lock()
	m.byID[id] = s
	m.byOwner[old.OwnerKey] = s
	m.mu.Unlock()

	m.log.Info("hls session recreated", "old", sessionID, "session", id, "media", s.MediaID)
	return s, nil
}

// Get resolves a session id.
func (m *HLSManager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	return s, ok
}

// Destroy tears one session down.
func (m *HLSManager) Destroy(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.byID[sessionID]
	if ok {
		delete(m.byID, sessionID)
		delete(m.byOwner, s.OwnerKey)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Destroy()
	m.publishEnded(s)
	return true
}

func (m *HLSManager) publishEnded(s *Session) {
	if m.bus == nil {
		return
	}
	ev := events.NewSystemEvent(events.EventSessionEnded, "Playback session ended", "")
	ev.Data = map[string]interface{}{"session_id": s.ID, "media_item_id": s.MediaID}
	m.bus.PublishAsync(ev)
}

// sweep reaps idle encoders inside live sessions and destroys sessions
// whose players went away.
func (m *HLSManager) sweep() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if s.IdleFor() > m.sessionTimeout {
			m.log.Info("destroying idle hls session", "session", s.ID, "idle", s.IdleFor().Round(time.Second))
			m.Destroy(s.ID)
			continue
		}
		s.ReapIdleEncoders(m.encoderIdle)
	}
}

// SessionCount reports live sessions, for the status endpoint.
func (m *HLSManager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Shutdown destroys every session in parallel and stops the sweeper. Safe
// to call even when Start never ran.
func (m *HLSManager) Shutdown() {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()
	if started {
		close(m.stop)
		<-m.done
	}

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		sessions = append(sessions, s)
	}
	m.byID = make(map[string]*Session)
	m.byOwner = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Destroy()
			m.publishEnded(s)
		}(s)
	}
	wg.Wait()
	if len(sessions) > 0 {
		m.log.Info("all hls sessions destroyed", "count", len(sessions))
	}
}

// String implements fmt.Stringer for debug logging.
func (m *HLSManager) String() string {
	return fmt.Sprintf("HLSManager(sessions=%d)", m.SessionCount())
}
