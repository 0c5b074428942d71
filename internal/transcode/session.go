package transcode

import (
	"sync"
	"time"
)

// SessionState is the lifecycle phase of one transcoding session.
type SessionState string

const (
	// StateStarting means the process was spawned and the playlist has not
	// appeared yet.
	StateStarting SessionState = "starting"
	// StateRunning means the playlist exists and segments are being served.
	StateRunning SessionState = "running"
	// StateError means the process exited abnormally or never became ready.
	StateError SessionState = "error"
	// StateStopped means the session was explicitly stopped.
	StateStopped SessionState = "stopped"
)

// Session is one supervised transcoder process for a single RTSP stream. It
// exclusively owns its output directory and process handle.
type Session struct {
	StreamID  string
	SourceURL string
	Dir       string
	StartedAt time.Time

	mu         sync.Mutex
	state      SessionState
	proc       Process
	errorCount int
	retryCount int
	done       chan struct{} // closed when the current process has exited
}

// Status is the JSON view of a session served by the health and debug
// endpoints.
type Status struct {
	StreamID      string       `json:"streamId"`
	State         SessionState `json:"state"`
	StartedAt     time.Time    `json:"startedAt"`
	UptimeSeconds int64        `json:"uptimeSeconds"`
	ErrorCount    int          `json:"errorCount"`
	RetryCount    int          `json:"retryCount"`
	PlaybackURL   string       `json:"playbackUrl"`
}

// State returns the current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) counts() (errors, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorCount, s.retryCount
}

// attach swaps in a new process handle and exit channel, entering starting.
func (s *Session) attach(p Process) chan struct{} {
	done := make(chan struct{})
	s.mu.Lock()
	s.proc = p
	s.done = done
	s.state = StateStarting
	s.mu.Unlock()
	return done
}

func (s *Session) process() (Process, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc, s.done
}
