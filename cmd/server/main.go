package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"streamgrid/internal/control"
	"streamgrid/internal/grids"
	"streamgrid/internal/platform/config"
	"streamgrid/internal/platform/logger"
	"streamgrid/internal/platform/metrics"
	"streamgrid/internal/state"
	"streamgrid/internal/transcode"

	"github.com/go-chi/chi/v5"
)

const (
	shutdownTimeout = 10 * time.Second
	stopAllTimeout  = 5 * time.Second
)

func main() {
	_ = config.Load()

	file, err := config.LoadFile(config.GetEnv("CONFIG_FILE", "config.yaml"))
	if err != nil {
		slog.Error("config file", "error", err)
		os.Exit(1)
	}

	segmentPort := config.GetEnv("SEGMENT_PORT", config.FirstNonEmpty(file.SegmentPort, "8090"))
	controlPort := config.GetEnv("CONTROL_PORT", config.FirstNonEmpty(file.ControlPort, "8091"))
	dataDir := config.GetEnv("DATA_DIR", config.FirstNonEmpty(file.DataDir, "data"))
	publicBase := config.GetEnv("PUBLIC_BASE_URL",
		config.FirstNonEmpty(file.PublicBaseURL, "http://127.0.0.1:"+segmentPort))
	logLevel := config.GetEnv("LOG_LEVEL", config.FirstNonEmpty(file.Log.Level, "info"))
	logFormat := config.GetEnv("LOG_FORMAT", config.FirstNonEmpty(file.Log.Format, "json"))

	log := logger.New(logLevel, logFormat)

	apiKey := config.GetEnv("API_KEY", file.API.Key)
	if apiKey == "" {
		apiKey, err = control.GenerateKey()
		if err != nil {
			log.Error("generate API key", "error", err)
			os.Exit(1)
		}
		log.Info("generated control API key", "key", apiKey)
	}
	auth := control.NewAuthConfig(apiKey, config.GetEnvBool("API_ENABLED", file.API.Enabled))

	met := metrics.New()
	appState := state.NewManager(config.GetEnvInt("MAX_ROWS", 0))

	gridStore, err := grids.NewFileStore(filepath.Join(dataDir, "grids"))
	if err != nil {
		log.Error("grid store", "error", err)
		os.Exit(1)
	}

	spawner := &transcode.ExecSpawner{
		Binary: config.GetEnv("FFMPEG_PATH", file.Transcoder.Binary),
		Log:    logger.Component(log, "transcoder"),
	}
	supervisor := transcode.NewManager(transcode.Config{
		BaseDir:        filepath.Join(dataDir, "hls"),
		PublicBaseURL:  publicBase,
		MaxRetries:     config.GetEnvInt("TRANSCODE_MAX_RETRIES", file.Transcoder.MaxRetries),
		BackoffUnit:    config.GetEnvDuration("TRANSCODE_BACKOFF", config.ParseDuration(file.Transcoder.BackoffUnit, 0)),
		PollInterval:   config.GetEnvDuration("PLAYLIST_POLL_INTERVAL", config.ParseDuration(file.Transcoder.PollInterval, 0)),
		PollAttempts:   config.GetEnvInt("PLAYLIST_POLL_ATTEMPTS", file.Transcoder.PollAttempts),
		SegmentSeconds: config.GetEnvInt("HLS_SEGMENT_SECONDS", file.Transcoder.SegmentSeconds),
		WindowSize:     config.GetEnvInt("HLS_WINDOW_SIZE", file.Transcoder.WindowSize),
	}, spawner, logger.Component(log, "supervisor"), met)

	if tool := supervisor.CheckTool(context.Background()); tool.Available {
		log.Info("transcoder binary found", "version", tool.Version)
	} else {
		log.Warn("transcoder binary not found, RTSP streams will fail to start")
	}

	// Segment server: playlists/segments, per-session health, debug, metrics.
	segRouter := chi.NewRouter()
	segLog := logger.Component(log, "segments")
	segRouter.Use(logger.RequestLogger(segLog))
	segRouter.Use(metrics.RequestMiddleware(met))
	segRouter.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(supervisor.ActiveCount()) }).ServeHTTP(w, r)
	})
	transcode.NewHandler(supervisor, segLog, met).Routes(segRouter)

	// Control API server: authenticated CRUD over the live state.
	controlHandler := control.NewHandler(appState, gridStore, auth,
		logger.Component(log, "control"), met, control.Options{
			RateLimit:  config.GetEnvInt("API_RATE_LIMIT", file.API.RateLimit),
			RateWindow: config.GetEnvDuration("API_RATE_WINDOW", config.ParseDuration(file.API.RateWindow, 0)),
		})

	segSrv := &http.Server{Addr: "127.0.0.1:" + segmentPort, Handler: segRouter}
	ctlSrv := &http.Server{Addr: "127.0.0.1:" + controlPort, Handler: controlHandler.Router()}

	go superviseRTSP(appState, supervisor, logger.Component(log, "bridge"))
	go serve(log, "segment server", segSrv)
	go serve(log, "control API server", ctlSrv)

	log.Info("streamgrid started",
		"segment_addr", segSrv.Addr,
		"control_addr", ctlSrv.Addr,
		"api_enabled", auth.Enabled(),
		"data_dir", dataDir,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctlSrv.Shutdown(ctx); err != nil {
		log.Error("control API shutdown", "error", err)
	}
	if err := segSrv.Shutdown(ctx); err != nil {
		log.Error("segment server shutdown", "error", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopAllTimeout)
	defer stopCancel()
	supervisor.StopAll(stopCtx)

	log.Info("server stopped")
}

func serve(log *slog.Logger, name string, srv *http.Server) {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(name+" error", "error", err)
		os.Exit(1)
	}
}

// superviseRTSP watches state changes and keeps transcoding sessions in step:
// an added rtsp:// stream gets a session, a removed stream loses it. Other
// stream kinds play directly and never touch the supervisor.
func superviseRTSP(st *state.Manager, sup *transcode.Manager, log *slog.Logger) {
	for ev := range st.Subscribe() {
		switch ev.Kind {
		case state.EventStreamAdded:
			rec, err := st.GetStream(ev.StreamID)
			if err != nil || !strings.HasPrefix(strings.ToLower(rec.SourceURL), "rtsp://") {
				continue
			}
			go func(rec state.StreamRecord) {
				url, err := sup.Start(context.Background(), rec.ID, rec.SourceURL)
				if err != nil {
					log.Error("start transcode", "stream_id", rec.ID, "error", err.Error())
					return
				}
				log.Info("transcode ready", "stream_id", rec.ID, "playback_url", url)
			}(rec)
		case state.EventStreamRemoved:
			if err := sup.Stop(ev.StreamID); err != nil && !errors.Is(err, transcode.ErrNotFound) {
				log.Error("stop transcode", "stream_id", ev.StreamID, "error", err.Error())
			}
		}
	}
}
