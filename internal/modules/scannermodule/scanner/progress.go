package scanner

import (
	"sync"
	"sync/atomic"
	"time"
)

// Scan phases in pipeline order.
const (
	PhaseWalking   = "walking"
	PhaseProbing   = "probing"
	PhaseWriting   = "writing"
	PhaseSubtitles = "subtitles"
	PhaseEnriching = "enriching"
	PhaseCleanup   = "cleanup"
	PhaseComplete  = "complete"
	PhaseFailed    = "failed"
)

// ScanState tracks live progress of one library scan. Counters are atomics
// so pipeline workers update them without coordination.
type ScanState struct {
	LibraryID uint

	TotalFiles         atomic.Int64
	FilesProbed        atomic.Int64
	FilesInserted      atomic.Int64
	SubtitlesExtracted atomic.Int64
	ItemsEnriched      atomic.Int64
	Errors             atomic.Int64

	mu          sync.RWMutex
	phase       string
	currentItem string
	startedAt   time.Time
	probeStart  time.Time
}

// SetPhase moves the scan into a new phase.
func (s *ScanState) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	if phase == PhaseProbing && s.probeStart.IsZero() {
		s.probeStart = time.Now()
	}
}

// Phase returns the current phase label.
func (s *ScanState) Phase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetCurrentItem records the path currently being processed.
func (s *ScanState) SetCurrentItem(item string) {
	s.mu.Lock()
	s.currentItem = item
	s.mu.Unlock()
}

// Terminal reports whether the scan has finished, successfully or not.
func (s *ScanState) Terminal() bool {
	p := s.Phase()
	return p == PhaseComplete || p == PhaseFailed
}

// Snapshot is the JSON-friendly view of a scan state.
type Snapshot struct {
	LibraryID          uint    `json:"library_id"`
	Phase              string  `json:"phase"`
	CurrentItem        string  `json:"current_item,omitempty"`
	TotalFiles         int64   `json:"total_files"`
	FilesProbed        int64   `json:"files_probed"`
	FilesInserted      int64   `json:"files_inserted"`
	SubtitlesExtracted int64   `json:"subtitles_extracted"`
	ItemsEnriched      int64   `json:"items_enriched"`
	Errors             int64   `json:"errors"`
	Percent            float64 `json:"percent"`
	ElapsedSecs        float64 `json:"elapsed_secs"`
	ETASecs            float64 `json:"eta_secs,omitempty"`
}

// Snapshot produces the current view. The ETA is linear and computed from
// the probe phase only; later phases have no predictable rate.
func (s *ScanState) Snapshot() Snapshot {
	s.mu.RLock()
	phase := s.phase
	current := s.currentItem
	started := s.startedAt
	probeStart := s.probeStart
	s.mu.RUnlock()

	total := s.TotalFiles.Load()
	probed := s.FilesProbed.Load()

	snap := Snapshot{
		LibraryID:          s.LibraryID,
		Phase:              phase,
		CurrentItem:        current,
		TotalFiles:         total,
		FilesProbed:        probed,
		FilesInserted:      s.FilesInserted.Load(),
		SubtitlesExtracted: s.SubtitlesExtracted.Load(),
		ItemsEnriched:      s.ItemsEnriched.Load(),
		Errors:             s.Errors.Load(),
		ElapsedSecs:        time.Since(started).Seconds(),
	}
	if total > 0 {
		snap.Percent = float64(probed) / float64(total)
	}
	if phase == PhaseProbing && probed > 0 && !probeStart.IsZero() {
		rate := float64(probed) / time.Since(probeStart).Seconds()
		if rate > 0 {
			snap.ETASecs = float64(total-probed) / rate
		}
	}
	return snap
}

// Registry tracks live scans, one per library at most.
type Registry struct {
	mu     sync.Mutex
	states map[uint]*ScanState
}

// NewRegistry creates an empty progress registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[uint]*ScanState)}
}

// TryStart returns a fresh state for the library, or nil if a scan is
// already running (an existing non-terminal state).
func (r *Registry) TryStart(libraryID uint) *ScanState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.states[libraryID]; ok && !prior.Terminal() {
		return nil
	}
	st := &ScanState{LibraryID: libraryID, startedAt: time.Now()}
	st.phase = PhaseWalking
	r.states[libraryID] = st
	return st
}

// Get returns the state for a library, if any.
func (r *Registry) Get(libraryID uint) (*ScanState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[libraryID]
	return st, ok
}

// Active reports whether a scan is currently running for the library.
func (r *Registry) Active(libraryID uint) bool {
	st, ok := r.Get(libraryID)
	return ok && !st.Terminal()
}
