package transcode

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"streamgrid/internal/platform/metrics"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
)

// Handler serves transcoded playlists and segments straight from session
// output directories, plus per-session health and a debug listing.
type Handler struct {
	mgr     *Manager
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler reading through the given Manager. Metrics may
// be nil to disable recording.
func NewHandler(mgr *Manager, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{mgr: mgr, log: log, metrics: m}
}

// Routes mounts the segment-serving surface on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/debug/streams", h.ListSessions)
	r.Get("/{stream_id}/health", h.SessionHealth)
	r.Get("/{stream_id}/{file}", h.ServeFile)
}

// ServeFile handles GET /{stream_id}/{file}. Playlists are served uncached so
// players always see the freshest window; segments are immutable and cacheable.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "stream_id")
	file := chi.URLParam(r, "file")

	dir, ok := h.mgr.Dir(streamID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	// Session directories are flat; anything that isn't a bare file name is
	// a traversal attempt.
	if file == "" || file != filepath.Base(file) || strings.HasPrefix(file, ".") {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(dir, file)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}

	switch {
	case strings.HasSuffix(file, ".m3u8"):
		w.Header().Set("Content-Type", playlistContentType)
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	case strings.HasSuffix(file, ".ts"):
		w.Header().Set("Content-Type", segmentContentType)
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}

	if h.metrics != nil {
		h.metrics.IncSegmentRequests()
	}
	http.ServeFile(w, r, path)
}

// SessionHealth handles GET /{stream_id}/health.
func (h *Handler) SessionHealth(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "stream_id")
	status, ok := h.mgr.Get(streamID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Stream not found"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListSessions handles GET /debug/streams.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": h.mgr.Sessions(),
		"count":    h.mgr.ActiveCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
