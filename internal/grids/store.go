// Package grids persists named grid snapshots and serves the manifest the
// control API lists.
package grids

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"streamgrid/internal/layout"
	"streamgrid/internal/state"
)

// ErrNotFound is returned when no grid exists for the requested id.
var ErrNotFound = errors.New("grid not found")

// SavedGrid is a named, timestamped snapshot of the live state.
type SavedGrid struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	CreatedAt    time.Time            `json:"createdAt"`
	LastModified time.Time            `json:"lastModified"`
	Streams      []state.StreamRecord `json:"streams"`
	Layout       []layout.Placement   `json:"layout"`
	Chats        []state.ChatRecord   `json:"chats"`
}

// Summary is one manifest entry.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
	StreamCount  int       `json:"streamCount"`
}

// Store is the persistence contract consumed by the control API.
// Implementations can be file-based or in-memory.
type Store interface {
	// Create assigns an id and timestamps and persists the grid.
	Create(g SavedGrid) (SavedGrid, error)
	// Save persists an existing grid, refreshing LastModified.
	Save(g SavedGrid) error
	// Load returns the grid with the given id, or ErrNotFound.
	Load(id string) (SavedGrid, error)
	// Delete removes the grid with the given id, or ErrNotFound.
	Delete(id string) error
	// List returns the manifest, newest modification first.
	List() ([]Summary, error)
}

// FileStore keeps one JSON file per grid under a data directory. Writes go
// through a temp file and rename so a crash never leaves a torn snapshot.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create grids dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Create implements Store.Create.
func (s *FileStore) Create(g SavedGrid) (SavedGrid, error) {
	g.ID = uuid.NewString()
	now := s.now().UTC()
	g.CreatedAt = now
	g.LastModified = now
	if err := s.write(g); err != nil {
		return SavedGrid{}, err
	}
	return g, nil
}

// Save implements Store.Save.
func (s *FileStore) Save(g SavedGrid) error {
	if _, err := os.Stat(s.path(g.ID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("stat grid: %w", err)
	}
	g.LastModified = s.now().UTC()
	return s.write(g)
}

// Load implements Store.Load.
func (s *FileStore) Load(id string) (SavedGrid, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return SavedGrid{}, ErrNotFound
		}
		return SavedGrid{}, fmt.Errorf("read grid: %w", err)
	}
	var g SavedGrid
	if err := json.Unmarshal(data, &g); err != nil {
		return SavedGrid{}, fmt.Errorf("decode grid %s: %w", id, err)
	}
	return g, nil
}

// Delete implements Store.Delete.
func (s *FileStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// List implements Store.List. The manifest is rebuilt from the files on disk;
// unreadable entries are skipped rather than failing the whole listing.
func (s *FileStore) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list grids dir: %w", err)
	}
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		g, err := s.Load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		out = append(out, Summary{
			ID:           g.ID,
			Name:         g.Name,
			CreatedAt:    g.CreatedAt,
			LastModified: g.LastModified,
			StreamCount:  len(g.Streams),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	return out, nil
}

func (s *FileStore) path(id string) string {
	// Ids are uuids we generated, but never trust them as path components.
	return filepath.Join(s.dir, filepath.Base(id)+".json")
}

func (s *FileStore) write(g SavedGrid) error {
	path := s.path(g.ID)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open tmp: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&g); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode grid: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename tmp: %w", err)
	}
	return nil
}
