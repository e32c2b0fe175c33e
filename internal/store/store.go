// Package store holds the capsule's pipeline state and transient recording artifacts.
package store

import (
	"sync"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
)

// Snapshot is an immutable copy of the store contents.
type Snapshot struct {
	PipelineState domain.PipelineState
	// PipelineError is only meaningful when HasError is set; an empty
	// message still means an error is active.
	PipelineError string
	HasError      bool

	AudioVolume       float64
	PartialTranscript string
	FinalTranscript   string
	PolishedText      string
	// RecordingDuration counts whole seconds of the current recording.
	RecordingDuration int
	TargetApp         string
	LastTiming        *domain.PipelineTiming

	History []domain.HistoryEntry

	CapsuleExpanded  bool
	ContextMenuOpen  bool
	ContextMenuReady bool
}

// IsRecording reports whether the backend is capturing audio.
func (s Snapshot) IsRecording() bool {
	return s.PipelineState.IsRecording()
}

// IsProcessing reports whether the backend is transcribing or polishing.
func (s Snapshot) IsProcessing() bool {
	return s.PipelineState.IsProcessing()
}

// Store is the single shared mutable resource of the capsule core.
// Setters only update state and signal watchers; they never call out.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

// New returns an isolated store in the idle state.
func New() *Store {
	return &Store{
		snap:     Snapshot{PipelineState: domain.PipelineIdle},
		watchers: make(map[int]chan struct{}),
	}
}

// Snapshot returns a copy of the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	if s.snap.History != nil {
		out.History = append([]domain.HistoryEntry(nil), s.snap.History...)
	}
	if s.snap.LastTiming != nil {
		timing := *s.snap.LastTiming
		out.LastTiming = &timing
	}
	return out
}

// PipelineState returns the current pipeline state.
func (s *Store) PipelineState() domain.PipelineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.PipelineState
}

// AudioVolume returns the latest audio level sample.
func (s *Store) AudioVolume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.AudioVolume
}

func (s *Store) SetPipelineState(state domain.PipelineState) {
	s.update(func(snap *Snapshot) { snap.PipelineState = state })
}

// SetPipelineError activates the error overlay with msg.
func (s *Store) SetPipelineError(msg string) {
	s.update(func(snap *Snapshot) {
		snap.PipelineError = msg
		snap.HasError = true
	})
}

func (s *Store) ClearPipelineError() {
	s.update(func(snap *Snapshot) {
		snap.PipelineError = ""
		snap.HasError = false
	})
}

func (s *Store) SetAudioVolume(v float64) {
	s.update(func(snap *Snapshot) { snap.AudioVolume = v })
}

func (s *Store) SetPartialTranscript(text string) {
	s.update(func(snap *Snapshot) { snap.PartialTranscript = text })
}

func (s *Store) SetFinalTranscript(text string) {
	s.update(func(snap *Snapshot) { snap.FinalTranscript = text })
}

func (s *Store) SetPolishedText(text string) {
	s.update(func(snap *Snapshot) { snap.PolishedText = text })
}

// AppendPolishedChunk concatenates one streamed polish chunk.
func (s *Store) AppendPolishedChunk(chunk string) {
	s.update(func(snap *Snapshot) { snap.PolishedText += chunk })
}

func (s *Store) SetRecordingDuration(seconds int) {
	s.update(func(snap *Snapshot) { snap.RecordingDuration = seconds })
}

func (s *Store) SetTargetApp(app string) {
	s.update(func(snap *Snapshot) { snap.TargetApp = app })
}

func (s *Store) SetLastTiming(timing domain.PipelineTiming) {
	s.update(func(snap *Snapshot) { snap.LastTiming = &timing })
}

func (s *Store) SetHistory(entries []domain.HistoryEntry) {
	copied := append([]domain.HistoryEntry(nil), entries...)
	s.update(func(snap *Snapshot) { snap.History = copied })
}

func (s *Store) SetCapsuleExpanded(expanded bool) {
	s.update(func(snap *Snapshot) { snap.CapsuleExpanded = expanded })
}

// OpenContextMenu marks the menu open. Readiness waits for the geometry engine.
func (s *Store) OpenContextMenu() {
	s.update(func(snap *Snapshot) { snap.ContextMenuOpen = true })
}

// CloseContextMenu clears the open and ready flags together.
func (s *Store) CloseContextMenu() {
	s.update(func(snap *Snapshot) {
		snap.ContextMenuOpen = false
		snap.ContextMenuReady = false
	})
}

// MarkContextMenuReady flags the menu as renderable. It is a no-op when
// the menu was closed in the meantime and reports whether the flag is set.
func (s *Store) MarkContextMenuReady() bool {
	s.mu.Lock()
	if !s.snap.ContextMenuOpen {
		s.mu.Unlock()
		return false
	}
	changed := !s.snap.ContextMenuReady
	s.snap.ContextMenuReady = true
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return true
}

// ResetRecording clears every recording session field at once.
func (s *Store) ResetRecording() {
	s.update(func(snap *Snapshot) {
		snap.AudioVolume = 0
		snap.PartialTranscript = ""
		snap.FinalTranscript = ""
		snap.PolishedText = ""
		snap.RecordingDuration = 0
	})
}

// Watch returns a channel that receives a signal after every change.
// Signals coalesce: a slow reader sees at most one pending signal and
// must re-read the snapshot. The returned func stops the watch.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
}

func (s *Store) update(mutate func(*Snapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	s.mu.Unlock()

	s.notify()
}

func (s *Store) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
