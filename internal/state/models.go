package state

// FitMode controls how a stream's video is scaled inside its tile.
type FitMode string

const (
	FitContain FitMode = "contain"
	FitCover   FitMode = "cover"
)

// Valid reports whether m is one of the known fit modes.
func (m FitMode) Valid() bool {
	return m == FitContain || m == FitCover
}

// StreamRecord is one stream shown on the dashboard. Identity is the ID;
// uniqueness is enforced by the owning Manager.
type StreamRecord struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	SourceURL string  `json:"streamUrl"`
	LogoURL   string  `json:"logoUrl,omitempty"`
	Muted     bool    `json:"isMuted"`
	FitMode   FitMode `json:"fitMode"`
}

// StreamPatch is a partial update to a StreamRecord. Nil fields are left
// untouched.
type StreamPatch struct {
	Name      *string  `json:"name,omitempty"`
	SourceURL *string  `json:"streamUrl,omitempty"`
	LogoURL   *string  `json:"logoUrl,omitempty"`
	Muted     *bool    `json:"isMuted,omitempty"`
	FitMode   *FitMode `json:"fitMode,omitempty"`
}

// ChatRecord is a chat overlay tile attached to a stream. It occupies its own
// grid tile and is removed together with its stream.
type ChatRecord struct {
	ID       string `json:"id"`
	StreamID string `json:"streamId"`
}

// EventKind labels a state change broadcast to subscribers.
type EventKind string

const (
	EventStreamAdded   EventKind = "stream_added"
	EventStreamUpdated EventKind = "stream_updated"
	EventStreamRemoved EventKind = "stream_removed"
	EventChatToggled   EventKind = "chat_toggled"
	EventLayoutChanged EventKind = "layout_changed"
	EventGridLoaded    EventKind = "grid_loaded"
)

// Event is delivered to subscribers after each committed mutation.
type Event struct {
	Kind     EventKind
	StreamID string
}
