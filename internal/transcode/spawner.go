package transcode

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Process is a handle to a running transcoder.
type Process interface {
	// Wait blocks until the process exits and returns its exit error.
	// A nil error means a clean exit.
	Wait() error
	// Signal asks the process to shut down gracefully. Non-blocking.
	Signal() error
	// Kill terminates the process immediately.
	Kill() error
}

// Spawner launches transcoder processes. The exec-backed implementation is
// used in production; tests substitute a fake to drive exits and failures.
type Spawner interface {
	Spawn(ctx context.Context, args []string) (Process, error)
	// Probe checks whether the transcoder binary is usable. It never
	// panics; any failure is reported through ToolInfo.Available.
	Probe(ctx context.Context) ToolInfo
}

// ToolInfo is the result of a transcoder binary probe.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
}

// ExecSpawner runs a real transcoder binary (ffmpeg) via os/exec.
type ExecSpawner struct {
	// Binary is the transcoder executable name or path. Defaults to
	// "ffmpeg" when empty.
	Binary string
	Log    *slog.Logger
}

func (e *ExecSpawner) binary() string {
	if e.Binary != "" {
		return e.Binary
	}
	return "ffmpeg"
}

// Spawn implements Spawner. Stderr is drained into debug logs so slow log
// consumers never block the child.
func (e *ExecSpawner) Spawn(ctx context.Context, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, e.binary(), args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.binary(), err)
	}

	// Always drain stderr: ffmpeg is chatty and stalls on a full pipe.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if e.Log != nil {
				e.Log.Debug("transcoder", slog.String("line", scanner.Text()))
			}
		}
	}()

	return &execProcess{cmd: cmd}, nil
}

// Probe implements Spawner. It resolves the binary and asks it for a version
// string with a short deadline.
func (e *ExecSpawner) Probe(ctx context.Context) ToolInfo {
	path, err := exec.LookPath(e.binary())
	if err != nil {
		return ToolInfo{}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return ToolInfo{}
	}
	version := ""
	if lines := strings.SplitN(string(out), "\n", 2); len(lines) > 0 {
		version = strings.TrimSpace(lines[0])
	}
	return ToolInfo{Available: true, Version: version}
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Signal() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
