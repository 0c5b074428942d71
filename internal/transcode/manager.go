// Package transcode supervises external transcoder processes that bridge
// RTSP sources into segmented HLS, and serves the resulting segments.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"streamgrid/internal/platform/metrics"
)

// PlaylistName is the playlist file each session's transcoder writes.
const PlaylistName = "playlist.m3u8"

var (
	// ErrToolUnavailable is returned by Start when the transcoder binary
	// cannot be found or executed. It is not retried; the crash/retry
	// policy only applies to processes that did start.
	ErrToolUnavailable = errors.New("transcoder binary not available")

	// ErrNotFound is returned by Stop for an unknown stream id.
	ErrNotFound = errors.New("no transcoding session for stream")
)

// Config tunes the supervisor. Zero values select the documented defaults;
// tests shrink the poll and backoff knobs instead of waiting wall-clock time.
type Config struct {
	// BaseDir is the parent of all per-session output directories.
	BaseDir string
	// PublicBaseURL is the address playback clients reach the segment
	// server on, e.g. "http://127.0.0.1:8090".
	PublicBaseURL string
	// MaxRetries caps automatic respawns after abnormal exits. Default 3.
	MaxRetries int
	// BackoffUnit scales the respawn delay: attempt n waits n*BackoffUnit.
	// Default 2s.
	BackoffUnit time.Duration
	// PollInterval and PollAttempts bound the wait for the playlist file
	// to appear after a spawn. Defaults 1s and 15.
	PollInterval time.Duration
	PollAttempts int
	// SegmentSeconds and WindowSize shape the HLS output. Defaults 2 and 10.
	SegmentSeconds int
	WindowSize     int
	// StopGrace is how long a signaled process gets before it is killed.
	// Default 3s.
	StopGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffUnit == 0 {
		c.BackoffUnit = 2 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.PollAttempts == 0 {
		c.PollAttempts = 15
	}
	if c.SegmentSeconds == 0 {
		c.SegmentSeconds = 2
	}
	if c.WindowSize == 0 {
		c.WindowSize = 10
	}
	if c.StopGrace == 0 {
		c.StopGrace = 3 * time.Second
	}
	return c
}

// Manager owns the session table. It is the only component that mutates
// transcoding state; the segment server and shutdown path hold a reference
// and read through its methods.
type Manager struct {
	cfg     Config
	spawner Spawner
	log     *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a supervisor using the given spawner. Metrics may be nil
// to disable recording (e.g. in tests).
func NewManager(cfg Config, spawner Spawner, log *slog.Logger, m *metrics.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg.withDefaults(),
		spawner:  spawner,
		log:      log,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// CheckTool probes the transcoder binary. Never returns an error; failures
// surface as Available=false.
func (m *Manager) CheckTool(ctx context.Context) ToolInfo {
	return m.spawner.Probe(ctx)
}

// Start launches a transcoding session for streamID, or returns the existing
// session's playback URL if one is already registered. The presence check
// reserves the table entry first, so concurrent starts for the same id never
// spawn twice.
func (m *Manager) Start(ctx context.Context, streamID, sourceURL string) (string, error) {
	m.mu.Lock()
	if _, ok := m.sessions[streamID]; ok {
		m.mu.Unlock()
		m.log.Debug("session already exists", slog.String("stream_id", streamID))
		return m.playbackURL(streamID), nil
	}
	sess := &Session{
		StreamID:  streamID,
		SourceURL: sourceURL,
		Dir:       filepath.Join(m.cfg.BaseDir, streamID),
		StartedAt: time.Now().UTC(),
		state:     StateStarting,
	}
	m.sessions[streamID] = sess
	m.mu.Unlock()

	if tool := m.spawner.Probe(ctx); !tool.Available {
		m.remove(sess)
		return "", fmt.Errorf("%w: install ffmpeg and make sure it is on PATH", ErrToolUnavailable)
	}

	if err := os.MkdirAll(sess.Dir, 0o750); err != nil {
		m.remove(sess)
		return "", fmt.Errorf("create output dir: %w", err)
	}

	proc, err := m.spawner.Spawn(m.ctx, m.transcodeArgs(sourceURL, sess.Dir))
	if err != nil {
		m.remove(sess)
		_ = os.RemoveAll(sess.Dir)
		return "", fmt.Errorf("spawn transcoder: %w", err)
	}

	done := sess.attach(proc)
	go m.watch(sess, proc, done)

	m.log.Info("transcoding session started",
		slog.String("stream_id", streamID),
		slog.String("source", sourceURL),
		slog.String("dir", sess.Dir),
	)
	if m.metrics != nil {
		m.metrics.IncSessionsStarted()
	}

	if !m.awaitPlaylist(ctx, sess) {
		sess.setState(StateError)
		return "", fmt.Errorf("stream %s: playlist did not appear within %v",
			streamID, time.Duration(m.cfg.PollAttempts)*m.cfg.PollInterval)
	}
	sess.setState(StateRunning)
	return m.playbackURL(streamID), nil
}

// Stop terminates a session. The table entry is removed before the process
// teardown runs, so a concurrent second stop observes not-found immediately.
func (m *Manager) Stop(streamID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[streamID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, streamID)
	}
	delete(m.sessions, streamID)
	m.mu.Unlock()

	m.teardown(sess)
	m.log.Info("transcoding session stopped", slog.String("stream_id", streamID))
	if m.metrics != nil {
		m.metrics.IncSessionsStopped()
	}
	return nil
}

// StopAll stops every live session and waits for their processes to exit,
// bounded by ctx. Called once at application shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	dones := make([]<-chan struct{}, 0, len(all))
	for _, sess := range all {
		if _, done := sess.process(); done != nil {
			dones = append(dones, done)
		}
		m.teardown(sess)
	}
	m.cancel()

	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

// Dir returns the output directory for a registered session.
func (m *Manager) Dir(streamID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[streamID]
	if !ok {
		return "", false
	}
	return sess.Dir, true
}

// Get returns the status of a registered session.
func (m *Manager) Get(streamID string) (Status, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[streamID]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return m.status(sess), true
}

// Sessions returns the status of every registered session, ordered by id.
func (m *Manager) Sessions() []Status {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(all))
	for _, s := range all {
		out = append(out, m.status(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

// ActiveCount returns the number of registered sessions, for the metrics
// gauge refresh hook.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) status(sess *Session) Status {
	errs, retries := sess.counts()
	return Status{
		StreamID:      sess.StreamID,
		State:         sess.State(),
		StartedAt:     sess.StartedAt,
		UptimeSeconds: int64(time.Since(sess.StartedAt).Seconds()),
		ErrorCount:    errs,
		RetryCount:    retries,
		PlaybackURL:   m.playbackURL(sess.StreamID),
	}
}

func (m *Manager) playbackURL(streamID string) string {
	return m.cfg.PublicBaseURL + "/" + streamID + "/" + PlaylistName
}

func (m *Manager) transcodeArgs(sourceURL, dir string) []string {
	return []string{
		"-rtsp_transport", "tcp",
		"-i", sourceURL,
		"-c:v", "copy",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", strconv.Itoa(m.cfg.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(m.cfg.WindowSize),
		"-hls_flags", "delete_segments+append_list",
		filepath.Join(dir, PlaylistName),
	}
}

// awaitPlaylist polls for the session's playlist file. True once it exists,
// false after the attempt budget or ctx cancellation.
func (m *Manager) awaitPlaylist(ctx context.Context, sess *Session) bool {
	playlist := filepath.Join(sess.Dir, PlaylistName)
	for i := 0; i < m.cfg.PollAttempts; i++ {
		if _, err := os.Stat(playlist); err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-m.ctx.Done():
			return false
		case <-time.After(m.cfg.PollInterval):
		}
	}
	return false
}

// watch waits for the current process to exit and routes abnormal exits into
// the retry policy. Exits observed after the session left the table (explicit
// stop, shutdown) are ignored.
func (m *Manager) watch(sess *Session, proc Process, done chan struct{}) {
	err := proc.Wait()
	close(done)

	if !m.registered(sess) {
		return
	}
	if err == nil {
		// Clean exit with the session still registered: the source ended.
		sess.setState(StateStopped)
		m.log.Info("transcoder exited cleanly", slog.String("stream_id", sess.StreamID))
		return
	}
	m.handleFailure(sess, err)
}

// handleFailure records an abnormal exit and schedules a respawn while the
// retry budget lasts. Past the budget the session stays registered in
// terminal error state until an explicit stop.
func (m *Manager) handleFailure(sess *Session, cause error) {
	sess.mu.Lock()
	sess.errorCount++
	sess.state = StateError
	canRetry := sess.retryCount < m.cfg.MaxRetries
	if canRetry {
		sess.retryCount++
	}
	attempt := sess.retryCount
	errorCount := sess.errorCount
	sess.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncSessionFailures()
	}

	if !canRetry {
		m.log.Error("transcoder failed permanently",
			slog.String("stream_id", sess.StreamID),
			slog.Int("error_count", errorCount),
			slog.String("error", cause.Error()),
		)
		return
	}

	delay := time.Duration(attempt) * m.cfg.BackoffUnit
	m.log.Warn("transcoder exited abnormally, scheduling respawn",
		slog.String("stream_id", sess.StreamID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", cause.Error()),
	)
	go m.respawn(sess, delay)
}

func (m *Manager) respawn(sess *Session, delay time.Duration) {
	select {
	case <-m.ctx.Done():
		return
	case <-time.After(delay):
	}
	if !m.registered(sess) {
		return
	}

	proc, err := m.spawner.Spawn(m.ctx, m.transcodeArgs(sess.SourceURL, sess.Dir))
	if err != nil {
		m.handleFailure(sess, err)
		return
	}
	done := sess.attach(proc)
	go m.watch(sess, proc, done)
	if m.metrics != nil {
		m.metrics.IncSessionRestarts()
	}

	// The playlist usually survives the crash, so readiness flips back fast.
	go func() {
		if m.awaitPlaylist(m.ctx, sess) && m.registered(sess) && sess.State() == StateStarting {
			sess.setState(StateRunning)
		}
	}()
}

// registered reports whether sess is still the table entry for its id.
func (m *Manager) registered(sess *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sess.StreamID] == sess
}

// remove deletes sess from the table if it is still the current entry.
func (m *Manager) remove(sess *Session) {
	m.mu.Lock()
	if m.sessions[sess.StreamID] == sess {
		delete(m.sessions, sess.StreamID)
	}
	m.mu.Unlock()
}

// teardown signals the process, kills it after the grace window, and deletes
// the output directory. The session is already out of the table by the time
// this runs.
func (m *Manager) teardown(sess *Session) {
	sess.setState(StateStopped)
	proc, done := sess.process()
	if proc != nil {
		_ = proc.Signal()
		go func() {
			select {
			case <-done:
			case <-time.After(m.cfg.StopGrace):
				_ = proc.Kill()
			}
		}()
	}
	if sess.Dir != "" {
		if err := os.RemoveAll(sess.Dir); err != nil {
			m.log.Error("cleanup output dir",
				slog.String("stream_id", sess.StreamID),
				slog.String("error", err.Error()))
		}
	}
}
