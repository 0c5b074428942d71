package state

import (
	"errors"
	"testing"
)

func TestManager_AddStream_defaults(t *testing.T) {
	m := NewManager(0)
	rec, err := m.AddStream(StreamRecord{Name: "Test", SourceURL: "https://x/y.m3u8"})
	if err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected generated id")
	}
	if rec.FitMode != FitContain {
		t.Errorf("fitMode should default to contain, got %q", rec.FitMode)
	}
	if rec.Muted {
		t.Error("isMuted should default to false")
	}

	snap := m.Snapshot()
	if len(snap.Streams) != 1 || len(snap.Layout) != 1 {
		t.Errorf("expected 1 stream and 1 placement, got %d/%d", len(snap.Streams), len(snap.Layout))
	}
}

func TestManager_AddStream_invalidFitMode(t *testing.T) {
	m := NewManager(0)
	if _, err := m.AddStream(StreamRecord{Name: "x", SourceURL: "u", FitMode: "stretch"}); err == nil {
		t.Error("expected error for unknown fitMode")
	}
}

func TestManager_UpdateStream(t *testing.T) {
	m := NewManager(0)
	rec, _ := m.AddStream(StreamRecord{Name: "old", SourceURL: "u"})

	name := "new"
	muted := true
	got, err := m.UpdateStream(rec.ID, StreamPatch{Name: &name, Muted: &muted})
	if err != nil {
		t.Fatalf("UpdateStream: %v", err)
	}
	if got.Name != "new" || !got.Muted {
		t.Errorf("patch not applied: %+v", got)
	}
	if got.SourceURL != "u" {
		t.Errorf("untouched field changed: %q", got.SourceURL)
	}
}

func TestManager_UpdateStream_notFound(t *testing.T) {
	m := NewManager(0)
	if _, err := m.UpdateStream("missing", StreamPatch{}); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestManager_RemoveStream_cascadesChats(t *testing.T) {
	m := NewManager(0)
	a, _ := m.AddStream(StreamRecord{Name: "a", SourceURL: "u"})
	b, _ := m.AddStream(StreamRecord{Name: "b", SourceURL: "u"})
	if _, err := m.ToggleChat(a.ID); err != nil {
		t.Fatalf("ToggleChat: %v", err)
	}

	if err := m.RemoveStream(a.ID); err != nil {
		t.Fatalf("RemoveStream: %v", err)
	}
	snap := m.Snapshot()
	if len(snap.Streams) != 1 || snap.Streams[0].ID != b.ID {
		t.Errorf("expected only stream b left, got %+v", snap.Streams)
	}
	if len(snap.Chats) != 0 {
		t.Errorf("chat overlay should cascade with its stream, got %+v", snap.Chats)
	}
	if len(snap.Layout) != 1 {
		t.Errorf("layout should cover exactly the remaining tile, got %d", len(snap.Layout))
	}
}

func TestManager_ToggleChat_addsAndRemovesTile(t *testing.T) {
	m := NewManager(0)
	rec, _ := m.AddStream(StreamRecord{Name: "a", SourceURL: "u"})

	on, err := m.ToggleChat(rec.ID)
	if err != nil || !on {
		t.Fatalf("first toggle should enable chat, on=%v err=%v", on, err)
	}
	if n := len(m.Snapshot().Layout); n != 2 {
		t.Errorf("expected 2 tiles after chat toggle, got %d", n)
	}

	on, err = m.ToggleChat(rec.ID)
	if err != nil || on {
		t.Fatalf("second toggle should disable chat, on=%v err=%v", on, err)
	}
	if n := len(m.Snapshot().Layout); n != 1 {
		t.Errorf("expected 1 tile after chat removed, got %d", n)
	}
}

func TestManager_ReplaceAll_computesLayoutWhenAbsent(t *testing.T) {
	m := NewManager(0)
	streams := []StreamRecord{
		{ID: "s1", Name: "a", SourceURL: "u", FitMode: FitContain},
		{ID: "s2", Name: "b", SourceURL: "u", FitMode: FitCover},
	}
	m.ReplaceAll(streams, nil, nil)

	snap := m.Snapshot()
	if len(snap.Layout) != 2 {
		t.Errorf("expected layout computed for loaded streams, got %d", len(snap.Layout))
	}
	if m.Dirty() {
		t.Error("freshly loaded state should not be dirty")
	}
}

func TestManager_SetLayoutAndArrange(t *testing.T) {
	m := NewManager(0)
	a, _ := m.AddStream(StreamRecord{Name: "a", SourceURL: "u"})
	_, _ = m.AddStream(StreamRecord{Name: "b", SourceURL: "u"})

	// A manual layout is taken verbatim.
	manual := m.Snapshot().Layout
	manual[0].X, manual[0].Y = 10, 10
	m.SetLayout(manual)
	if got := m.Snapshot().Layout[0]; got.X != 10 || got.Y != 10 {
		t.Errorf("manual placement not kept: %+v", got)
	}

	// Arrange discards the manual positions and re-solves.
	arranged := m.Arrange()
	if len(arranged) != 2 {
		t.Fatalf("expected 2 placements, got %d", len(arranged))
	}
	for _, p := range arranged {
		if p.TileID == a.ID && (p.X == 10 && p.Y == 10) {
			t.Errorf("arrange should override manual position: %+v", p)
		}
	}
}

func TestManager_dirtyTracking(t *testing.T) {
	m := NewManager(0)
	if m.Dirty() {
		t.Error("new manager should start clean")
	}
	_, _ = m.AddStream(StreamRecord{Name: "a", SourceURL: "u"})
	if !m.Dirty() {
		t.Error("mutation should mark state dirty")
	}
	m.ClearDirty()
	if m.Dirty() {
		t.Error("ClearDirty should reset the flag")
	}
}

func TestManager_subscribeReceivesEvents(t *testing.T) {
	m := NewManager(0)
	ch := m.Subscribe()

	rec, _ := m.AddStream(StreamRecord{Name: "a", SourceURL: "u"})

	select {
	case ev := <-ch:
		if ev.Kind != EventStreamAdded || ev.StreamID != rec.ID {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected buffered event after AddStream")
	}
}
