package state

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"streamgrid/internal/layout"
)

// ErrStreamNotFound is returned for operations addressing an unknown stream id.
var ErrStreamNotFound = errors.New("stream not found")

// Snapshot is a copy of the full live state, safe to hand to other goroutines.
type Snapshot struct {
	Streams []StreamRecord     `json:"streams"`
	Layout  []layout.Placement `json:"layout"`
	Chats   []ChatRecord       `json:"chats"`
}

// Manager owns the live stream/grid state. All mutations, whether they come
// from the UI or from the control API, go through its methods; each tile-set
// change recomputes the whole layout synchronously before the method returns.
type Manager struct {
	mu      sync.RWMutex
	streams []StreamRecord
	chats   []ChatRecord
	layout  []layout.Placement
	maxRows int
	dirty   bool

	subMu sync.Mutex
	subs  []chan Event
}

// NewManager returns an empty state manager using maxRows as the layout row
// budget. maxRows <= 0 selects the solver default.
func NewManager(maxRows int) *Manager {
	return &Manager{maxRows: maxRows}
}

// AddStream validates and appends a stream, assigns it a fresh id, applies
// defaults, and recomputes the layout. The stored record is returned.
func (m *Manager) AddStream(rec StreamRecord) (StreamRecord, error) {
	if rec.FitMode == "" {
		rec.FitMode = FitContain
	}
	if !rec.FitMode.Valid() {
		return StreamRecord{}, errors.New("invalid fitMode: " + string(rec.FitMode))
	}
	rec.ID = uuid.NewString()

	m.mu.Lock()
	m.streams = append(m.streams, rec)
	m.recomputeLocked()
	m.dirty = true
	m.mu.Unlock()

	m.publish(Event{Kind: EventStreamAdded, StreamID: rec.ID})
	return rec, nil
}

// UpdateStream applies a partial patch to the stream with the given id.
func (m *Manager) UpdateStream(id string, patch StreamPatch) (StreamRecord, error) {
	m.mu.Lock()
	idx := m.indexOfLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return StreamRecord{}, ErrStreamNotFound
	}
	rec := &m.streams[idx]
	if patch.Name != nil {
		rec.Name = *patch.Name
	}
	if patch.SourceURL != nil {
		rec.SourceURL = *patch.SourceURL
	}
	if patch.LogoURL != nil {
		rec.LogoURL = *patch.LogoURL
	}
	if patch.Muted != nil {
		rec.Muted = *patch.Muted
	}
	if patch.FitMode != nil {
		if !patch.FitMode.Valid() {
			m.mu.Unlock()
			return StreamRecord{}, errors.New("invalid fitMode: " + string(*patch.FitMode))
		}
		rec.FitMode = *patch.FitMode
	}
	out := *rec
	m.dirty = true
	m.mu.Unlock()

	m.publish(Event{Kind: EventStreamUpdated, StreamID: id})
	return out, nil
}

// RemoveStream deletes a stream and any chat overlays that reference it, then
// recomputes the layout.
func (m *Manager) RemoveStream(id string) error {
	m.mu.Lock()
	idx := m.indexOfLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrStreamNotFound
	}
	m.streams = append(m.streams[:idx], m.streams[idx+1:]...)
	kept := m.chats[:0]
	for _, c := range m.chats {
		if c.StreamID != id {
			kept = append(kept, c)
		}
	}
	m.chats = kept
	m.recomputeLocked()
	m.dirty = true
	m.mu.Unlock()

	m.publish(Event{Kind: EventStreamRemoved, StreamID: id})
	return nil
}

// ToggleChat adds a chat overlay tile for the stream, or removes it if one
// already exists. Reports whether a chat is present after the call.
func (m *Manager) ToggleChat(streamID string) (bool, error) {
	m.mu.Lock()
	if m.indexOfLocked(streamID) < 0 {
		m.mu.Unlock()
		return false, ErrStreamNotFound
	}
	present := false
	kept := m.chats[:0]
	for _, c := range m.chats {
		if c.StreamID == streamID {
			present = true
			continue
		}
		kept = append(kept, c)
	}
	m.chats = kept
	if !present {
		m.chats = append(m.chats, ChatRecord{ID: "chat-" + streamID, StreamID: streamID})
	}
	m.recomputeLocked()
	m.dirty = true
	m.mu.Unlock()

	m.publish(Event{Kind: EventChatToggled, StreamID: streamID})
	return !present, nil
}

// Arrange recomputes the layout for the current tile set on explicit request.
func (m *Manager) Arrange() []layout.Placement {
	m.mu.Lock()
	m.recomputeLocked()
	out := clonePlacements(m.layout)
	m.mu.Unlock()

	m.publish(Event{Kind: EventLayoutChanged})
	return out
}

// SetLayout replaces the layout wholesale, e.g. after a manual drag/resize.
// Placements are taken as-is; the solver is not consulted.
func (m *Manager) SetLayout(placements []layout.Placement) {
	m.mu.Lock()
	m.layout = clonePlacements(placements)
	m.dirty = true
	m.mu.Unlock()

	m.publish(Event{Kind: EventLayoutChanged})
}

// ReplaceAll swaps the entire live state for a saved grid's contents.
func (m *Manager) ReplaceAll(streams []StreamRecord, placements []layout.Placement, chats []ChatRecord) {
	m.mu.Lock()
	m.streams = append([]StreamRecord(nil), streams...)
	m.chats = append([]ChatRecord(nil), chats...)
	if len(placements) > 0 {
		m.layout = clonePlacements(placements)
	} else {
		m.recomputeLocked()
	}
	m.dirty = false
	m.mu.Unlock()

	m.publish(Event{Kind: EventGridLoaded})
}

// GetStream returns the stream with the given id.
func (m *Manager) GetStream(id string) (StreamRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx := m.indexOfLocked(id); idx >= 0 {
		return m.streams[idx], nil
	}
	return StreamRecord{}, ErrStreamNotFound
}

// Snapshot returns a copy of the full state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Streams: append([]StreamRecord(nil), m.streams...),
		Layout:  clonePlacements(m.layout),
		Chats:   append([]ChatRecord(nil), m.chats...),
	}
}

// Dirty reports whether the state changed since the last ReplaceAll or
// ClearDirty, for persistence tracking.
func (m *Manager) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// ClearDirty marks the current state as persisted.
func (m *Manager) ClearDirty() {
	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()
}

// Subscribe registers a buffered event channel that receives a notification
// after every committed mutation. Slow subscribers drop events rather than
// block mutations.
func (m *Manager) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// recomputeLocked rebuilds the layout from the current tile set. Streams fill
// first in insertion order, chat tiles after. Caller holds m.mu.
func (m *Manager) recomputeLocked() {
	ids := make([]string, 0, len(m.streams)+len(m.chats))
	for _, s := range m.streams {
		ids = append(ids, s.ID)
	}
	for _, c := range m.chats {
		ids = append(ids, c.ID)
	}
	m.layout = layout.Compute(ids, m.maxRows)
}

func (m *Manager) indexOfLocked(id string) int {
	for i := range m.streams {
		if m.streams[i].ID == id {
			return i
		}
	}
	return -1
}

func clonePlacements(in []layout.Placement) []layout.Placement {
	return append([]layout.Placement(nil), in...)
}
