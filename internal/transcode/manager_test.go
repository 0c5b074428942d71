package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeProcess lets tests drive process exits.
type fakeProcess struct {
	once sync.Once
	exit chan error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exit: make(chan error, 1)}
}

func (p *fakeProcess) Exit(err error) {
	p.once.Do(func() { p.exit <- err })
}

func (p *fakeProcess) Wait() error { return <-p.exit }

func (p *fakeProcess) Signal() error {
	p.Exit(errors.New("signal: interrupt"))
	return nil
}

func (p *fakeProcess) Kill() error {
	p.Exit(errors.New("signal: killed"))
	return nil
}

// fakeSpawner records spawns and optionally writes the playlist file the
// readiness poll looks for.
type fakeSpawner struct {
	mu            sync.Mutex
	procs         []*fakeProcess
	argsSeen      [][]string
	available     bool
	version       string
	spawnErr      error
	writePlaylist bool
}

func (f *fakeSpawner) Spawn(ctx context.Context, args []string) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	if f.writePlaylist {
		playlist := args[len(args)-1]
		_ = os.MkdirAll(filepath.Dir(playlist), 0o750)
		_ = os.WriteFile(playlist, []byte("#EXTM3U\n"), 0o600)
	}
	p := newFakeProcess()
	f.procs = append(f.procs, p)
	f.argsSeen = append(f.argsSeen, args)
	return p, nil
}

func (f *fakeSpawner) Probe(ctx context.Context) ToolInfo {
	return ToolInfo{Available: f.available, Version: f.version}
}

func (f *fakeSpawner) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeSpawner) proc(i int) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[i]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, sp Spawner) *Manager {
	t.Helper()
	cfg := Config{
		BaseDir:       t.TempDir(),
		PublicBaseURL: "http://127.0.0.1:8090",
		BackoffUnit:   time.Millisecond,
		PollInterval:  time.Millisecond,
		PollAttempts:  5,
		StopGrace:     20 * time.Millisecond,
	}
	return NewManager(cfg, sp, testLogger(), nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManager_Start_idempotent(t *testing.T) {
	sp := &fakeSpawner{available: true, writePlaylist: true}
	m := newTestManager(t, sp)

	url1, err := m.Start(context.Background(), "s1", "rtsp://cam/1")
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	url2, err := m.Start(context.Background(), "s1", "rtsp://cam/1")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if url1 != url2 {
		t.Errorf("playback URLs differ: %q vs %q", url1, url2)
	}
	if got := sp.spawnCount(); got != 1 {
		t.Errorf("expected exactly one spawn, got %d", got)
	}
	if want := "http://127.0.0.1:8090/s1/playlist.m3u8"; url1 != want {
		t.Errorf("playback URL = %q, want %q", url1, want)
	}
}

func TestManager_Start_toolUnavailable(t *testing.T) {
	sp := &fakeSpawner{available: false}
	m := newTestManager(t, sp)

	_, err := m.Start(context.Background(), "s1", "rtsp://bad-host/x")
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if sp.spawnCount() != 0 {
		t.Error("no process should have been spawned")
	}
	if _, ok := m.Dir("s1"); ok {
		t.Error("failed start must not leave a session behind")
	}
	if _, err := os.Stat(filepath.Join(m.cfg.BaseDir, "s1")); !errors.Is(err, os.ErrNotExist) {
		t.Error("failed start must not leave an output directory behind")
	}
}

func TestManager_Start_playlistTimeout(t *testing.T) {
	sp := &fakeSpawner{available: true, writePlaylist: false}
	m := newTestManager(t, sp)

	_, err := m.Start(context.Background(), "s1", "rtsp://cam/1")
	if err == nil {
		t.Fatal("expected timeout error when playlist never appears")
	}
	status, ok := m.Get("s1")
	if !ok {
		t.Fatal("session should remain registered after readiness timeout")
	}
	if status.State != StateError {
		t.Errorf("expected error state, got %s", status.State)
	}
}

func TestManager_sessionIsolation(t *testing.T) {
	sp := &fakeSpawner{available: true, writePlaylist: true}
	m := newTestManager(t, sp)

	if _, err := m.Start(context.Background(), "s1", "rtsp://cam/1"); err != nil {
		t.Fatalf("start s1: %v", err)
	}
	if _, err := m.Start(context.Background(), "s2", "rtsp://cam/2"); err != nil {
		t.Fatalf("start s2: %v", err)
	}

	dir1, _ := m.Dir("s1")
	dir2, _ := m.Dir("s2")
	if dir1 == dir2 {
		t.Fatalf("sessions share an output directory: %s", dir1)
	}

	if err := m.Stop("s1"); err != nil {
		t.Fatalf("stop s1: %v", err)
	}
	status, ok := m.Get("s2")
	if !ok || status.State != StateRunning {
		t.Errorf("stopping s1 must not affect s2: ok=%v state=%s", ok, status.State)
	}
	if _, err := os.Stat(dir2); err != nil {
		t.Errorf("s2 output dir should survive: %v", err)
	}
}

func TestManager_Stop(t *testing.T) {
	sp := &fakeSpawner{available: true, writePlaylist: true}
	m := newTestManager(t, sp)

	if _, err := m.Start(context.Background(), "s1", "rtsp://cam/1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	dir, _ := m.Dir("s1")

	if err := m.Stop("s1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output dir should be deleted, stat err = %v", err)
	}
	if err := m.Stop("s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second stop should be not found, got %v", err)
	}
}

func TestManager_retryCeiling(t *testing.T) {
	sp := &fakeSpawner{available: true, writePlaylist: true}
	m := newTestManager(t, sp)

	if _, err := m.Start(context.Background(), "s1", "rtsp://cam/1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Crash the process maxRetries+1 times. Each of the first maxRetries
	// crashes earns a respawn; the last one must not.
	for i := 0; i < m.cfg.MaxRetries; i++ {
		sp.proc(i).Exit(fmt.Errorf("exit status 1"))
		want := i + 2
		waitFor(t, fmt.Sprintf("respawn %d", i+1), func() bool { return sp.spawnCount() == want })
	}
	sp.proc(m.cfg.MaxRetries).Exit(fmt.Errorf("exit status 1"))

	waitFor(t, "terminal error state", func() bool {
		status, ok := m.Get("s1")
		return ok && status.State == StateError && status.ErrorCount == m.cfg.MaxRetries+1
	})
	// Give a would-be extra respawn room to (wrongly) happen.
	time.Sleep(20 * time.Millisecond)
	if got := sp.spawnCount(); got != m.cfg.MaxRetries+1 {
		t.Errorf("expected %d total spawns, got %d", m.cfg.MaxRetries+1, got)
	}
	status, _ := m.Get("s1")
	if status.RetryCount != m.cfg.MaxRetries {
		t.Errorf("retryCount = %d, want %d", status.RetryCount, m.cfg.MaxRetries)
	}
	// The session survives in error state until an explicit stop.
	if err := m.Stop("s1"); err != nil {
		t.Errorf("explicit stop after exhaustion: %v", err)
	}
}

func TestManager_respawnRecoversToRunning(t *testing.T) {
	sp := &fakeSpawner{available: true, writePlaylist: true}
	m := newTestManager(t, sp)

	if _, err := m.Start(context.Background(), "s1", "rtsp://cam/1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	sp.proc(0).Exit(fmt.Errorf("exit status 1"))

	waitFor(t, "respawn", func() bool { return sp.spawnCount() == 2 })
	waitFor(t, "running again", func() bool {
		status, ok := m.Get("s1")
		return ok && status.State == StateRunning
	})
}

func TestManager_StopAll(t *testing.T) {
	sp := &fakeSpawner{available: true, writePlaylist: true}
	m := newTestManager(t, sp)

	for _, id := range []string{"s1", "s2", "s3"} {
		if _, err := m.Start(context.Background(), id, "rtsp://cam/"+id); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.StopAll(ctx)

	if got := m.ActiveCount(); got != 0 {
		t.Errorf("expected no sessions after StopAll, got %d", got)
	}
}

func TestManager_CheckTool(t *testing.T) {
	sp := &fakeSpawner{available: true, version: "ffmpeg version 7.1"}
	m := newTestManager(t, sp)

	info := m.CheckTool(context.Background())
	if !info.Available || info.Version != "ffmpeg version 7.1" {
		t.Errorf("unexpected tool info: %+v", info)
	}
}
