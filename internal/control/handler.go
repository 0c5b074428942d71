package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"streamgrid/internal/grids"
	"streamgrid/internal/layout"
	"streamgrid/internal/platform/logger"
	"streamgrid/internal/platform/metrics"
	"streamgrid/internal/state"
)

// Options tunes the control API surface. Zero values select the defaults:
// 100 requests per 15 minutes per caller address.
type Options struct {
	RateLimit  int
	RateWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.RateLimit == 0 {
		o.RateLimit = 100
	}
	if o.RateWindow == 0 {
		o.RateWindow = 15 * time.Minute
	}
	return o
}

// Handler exposes the control API over the live state Manager and the grid
// persistence Store. Every mutation goes through the same Manager methods the
// UI uses, so layout recomputation and dirty tracking stay consistent.
type Handler struct {
	state   *state.Manager
	grids   grids.Store
	auth    *AuthConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	opts    Options
}

// NewHandler returns a control API Handler. Metrics may be nil to disable
// metric recording (e.g. in tests).
func NewHandler(st *state.Manager, gs grids.Store, auth *AuthConfig, log *slog.Logger, m *metrics.Metrics, opts Options) *Handler {
	return &Handler{state: st, grids: gs, auth: auth, log: log, metrics: m, opts: opts.withDefaults()}
}

// Router builds the full control API router: request logging, metrics, panic
// isolation, then per-route rate limiting and auth. The liveness probe skips
// auth but shares the rate-limit window with everything else under /api.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(h.log))
	if h.metrics != nil {
		r.Use(metrics.RequestMiddleware(h.metrics))
	}
	r.Use(h.recoverer)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.rateLimiter())
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/streams", h.ListStreams)
			r.Post("/streams", h.CreateStream)
			r.Put("/streams/{id}", h.UpdateStream)
			r.Delete("/streams/{id}", h.DeleteStream)
			r.Get("/grids", h.ListGrids)
			r.Post("/grids", h.CreateGrid)
			r.Put("/grids/{id}/load", h.LoadGrid)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errBody{Error: "Endpoint not found"})
	})
	return r
}

type errBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Health handles GET /health and GET /api/health. Ungated liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"apiEnabled": h.auth.Enabled(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// ListStreams handles GET /api/streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"streams": snap.Streams})
}

type createStreamRequest struct {
	Name      string        `json:"name"`
	StreamURL string        `json:"streamUrl"`
	LogoURL   string        `json:"logoUrl"`
	IsMuted   bool          `json:"isMuted"`
	FitMode   state.FitMode `json:"fitMode"`
}

// CreateStream handles POST /api/streams.
func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "Invalid JSON body"})
		return
	}
	var missing []string
	if req.Name == "" {
		missing = append(missing, "name")
	}
	if req.StreamURL == "" {
		missing = append(missing, "streamUrl")
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, errBody{
			Error:   "Missing required fields",
			Message: strings.Join(missing, ", ") + " required",
		})
		return
	}

	rec, err := h.state.AddStream(state.StreamRecord{
		Name:      req.Name,
		SourceURL: req.StreamURL,
		LogoURL:   req.LogoURL,
		Muted:     req.IsMuted,
		FitMode:   req.FitMode,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: err.Error()})
		return
	}

	h.log.Info("stream created via API", slog.String("stream_id", rec.ID), slog.String("name", rec.Name))
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "stream": rec})
}

// UpdateStream handles PUT /api/streams/{id}.
func (h *Handler) UpdateStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "Missing stream id"})
		return
	}

	var patch state.StreamPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "Invalid JSON body"})
		return
	}

	if _, err := h.state.UpdateStream(id, patch); err != nil {
		if errors.Is(err, state.ErrStreamNotFound) {
			writeJSON(w, http.StatusNotFound, errBody{Error: "Stream not found"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errBody{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "updates": patch})
}

// DeleteStream handles DELETE /api/streams/{id}.
func (h *Handler) DeleteStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.state.RemoveStream(id); err != nil {
		if errors.Is(err, state.ErrStreamNotFound) {
			writeJSON(w, http.StatusNotFound, errBody{Error: "Stream not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errBody{Error: "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

// ListGrids handles GET /api/grids.
func (h *Handler) ListGrids(w http.ResponseWriter, r *http.Request) {
	list, err := h.grids.List()
	if err != nil {
		h.log.Error("list grids", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errBody{Error: "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grids": list})
}

type createGridRequest struct {
	Name    string               `json:"name"`
	Streams []state.StreamRecord `json:"streams"`
	Layout  []layout.Placement   `json:"layout"`
	Chats   []state.ChatRecord   `json:"chats"`
}

// CreateGrid handles POST /api/grids.
func (h *Handler) CreateGrid(w http.ResponseWriter, r *http.Request) {
	var req createGridRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "Invalid JSON body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errBody{
			Error:   "Missing required fields",
			Message: "name required",
		})
		return
	}
	if req.Streams == nil {
		req.Streams = []state.StreamRecord{}
	}
	if req.Layout == nil {
		req.Layout = []layout.Placement{}
	}
	if req.Chats == nil {
		req.Chats = []state.ChatRecord{}
	}

	grid, err := h.grids.Create(grids.SavedGrid{
		Name:    req.Name,
		Streams: req.Streams,
		Layout:  req.Layout,
		Chats:   req.Chats,
	})
	if err != nil {
		h.log.Error("create grid", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errBody{Error: "Internal server error"})
		return
	}

	h.log.Info("grid created via API", slog.String("grid_id", grid.ID), slog.String("name", grid.Name))
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "grid": grid})
}

// LoadGrid handles PUT /api/grids/{id}/load. Loading an unknown id is a 404;
// the load never silently no-ops.
func (h *Handler) LoadGrid(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	grid, err := h.grids.Load(id)
	if err != nil {
		if errors.Is(err, grids.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errBody{Error: "Grid not found"})
			return
		}
		h.log.Error("load grid", slog.String("grid_id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errBody{Error: "Internal server error"})
		return
	}

	h.state.ReplaceAll(grid.Streams, grid.Layout, grid.Chats)
	h.log.Info("grid loaded via API", slog.String("grid_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

// requireAuth gates a route on the shared AuthConfig: disabled beats any key,
// then missing, then mismatch.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch err := h.auth.Authenticate(keyFromRequest(r)); {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, ErrDisabled):
			writeJSON(w, http.StatusServiceUnavailable, errBody{
				Error:   "Service disabled",
				Message: "The control API is disabled. Enable it in settings.",
			})
		case errors.Is(err, ErrMissingKey):
			writeJSON(w, http.StatusUnauthorized, errBody{
				Error:   "Missing API key",
				Message: "Provide the key via X-API-Key or Authorization: Bearer.",
			})
		default:
			writeJSON(w, http.StatusForbidden, errBody{
				Error:   "Invalid API key",
				Message: "The supplied API key does not match.",
			})
		}
	})
}

// rateLimiter enforces the shared per-caller request ceiling ahead of auth.
func (h *Handler) rateLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(
		h.opts.RateLimit,
		h.opts.RateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if h.metrics != nil {
				h.metrics.IncRateLimited()
			}
			writeJSON(w, http.StatusTooManyRequests, errBody{
				Error:   "Too many requests",
				Message: "Rate limit exceeded. Back off and retry later.",
			})
		}),
	)
}

// recoverer isolates handler panics to the request that caused them.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.log.Error("handler panic",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
				)
				writeJSON(w, http.StatusInternalServerError, errBody{Error: "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
