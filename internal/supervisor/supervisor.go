// Package supervisor keeps the bot worker running: it spawns the child,
// forwards its output into the log, restarts it after every exit and emits a
// periodic heartbeat.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/rankvisor/internal/config"
	"github.com/loykin/rankvisor/internal/history"
	"github.com/loykin/rankvisor/internal/metrics"
	"github.com/loykin/rankvisor/internal/process"
)

// Child is a running worker as seen by the restart loop.
type Child interface {
	PID() int
	TryReadStdout() (string, bool)
	TryReadStderr() (string, bool)
	Exited() (int, bool)
	Err() error
	Terminate(grace time.Duration)
}

// SpawnFunc starts one child.
type SpawnFunc func(process.Spec) (Child, error)

// SyncFunc registers the bot's commands and returns how many were registered.
type SyncFunc func(ctx context.Context) (int, error)

// SyncResult is the outcome of the one-time command synchronization.
type SyncResult struct {
	Skipped    bool
	Registered int
	Err        error
}

// ChildResult is the outcome of one spawn-and-monitor cycle.
type ChildResult struct {
	Attempt    int
	PID        int
	ExitCode   int
	Started    bool // false when spawn itself failed
	Terminated bool // stopped by the supervisor during shutdown
	Runtime    time.Duration
	Err        error
}

// Options wires a Supervisor. Zero durations fall back to the config defaults.
type Options struct {
	Spec              process.Spec
	Spawn             SpawnFunc
	Sync              SyncFunc
	RestartDelay      time.Duration
	RestartMaxDelay   time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	ShutdownGrace     time.Duration
	Log               *slog.Logger
	Metrics           *metrics.Supervisor
	History           *history.Recorder

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// NewTicker returns a tick channel and its stop func. Tests replace it.
	NewTicker func(d time.Duration) (<-chan time.Time, func())
}

type Supervisor struct {
	opts Options
	log  *slog.Logger

	running   atomic.Bool
	mu        sync.Mutex
	status    Status
	heartbeat time.Time
}

// Status is a snapshot of the supervisor for the status endpoint.
type Status struct {
	Running       bool      `json:"running"`
	ChildPID      int       `json:"child_pid"`
	ChildUp       bool      `json:"child_up"`
	Spawns        int       `json:"spawns"`
	SpawnFailures int       `json:"spawn_failures"`
	LastExitCode  *int      `json:"last_exit_code,omitempty"`
	LastExitAt    time.Time `json:"last_exit_at,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	NextDelay     string    `json:"next_delay,omitempty"`
	CommandSync   string    `json:"command_sync"`
}

// SpawnProcess adapts process.Spawn to SpawnFunc.
func SpawnProcess(spec process.Spec) (Child, error) {
	h, err := process.Spawn(spec)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func New(o Options) *Supervisor {
	if o.Spawn == nil {
		o.Spawn = SpawnProcess
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = config.DefaultRestartDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = config.DefaultPollInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = config.DefaultHeartbeatInterval
	}
	if o.ShutdownGrace < 0 {
		o.ShutdownGrace = 0
	}
	if o.Log == nil {
		o.Log = slog.New(slog.DiscardHandler)
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	if o.NewTicker == nil {
		o.NewTicker = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}
	return &Supervisor{opts: o, log: o.Log, status: Status{CommandSync: "pending"}}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run synchronizes commands once, starts the heartbeat and restarts the
// child until ctx is cancelled. It returns nil on cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("supervisor already running")
	}
	defer s.running.Store(false)

	s.syncCommands(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	tick, stop := s.opts.NewTicker(s.opts.HeartbeatInterval)
	go func() {
		defer wg.Done()
		defer stop()
		s.heartbeatLoop(ctx, tick)
	}()

	s.restartLoop(ctx)
	wg.Wait()
	return nil
}

// Running reports whether Run is active.
func (s *Supervisor) Running() bool { return s.running.Load() }

// Status returns a copy of the current status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.running.Load()
	st.LastHeartbeat = s.heartbeat
	return st
}

// PID returns the current child's pid, or 0 when none is running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.ChildUp {
		return 0
	}
	return s.status.ChildPID
}

func (s *Supervisor) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func (s *Supervisor) syncCommands(ctx context.Context) SyncResult {
	if s.opts.Sync == nil {
		s.update(func(st *Status) { st.CommandSync = "skipped" })
		return SyncResult{Skipped: true}
	}
	s.log.Info("synchronizing slash commands")
	n, err := s.opts.Sync(ctx)
	res := SyncResult{Registered: n, Err: err}
	s.opts.Metrics.ObserveCommandSync(err == nil)
	if err != nil {
		s.log.Error("command synchronization failed, continuing", "error", err)
		s.update(func(st *Status) { st.CommandSync = "failed" })
		return res
	}
	s.log.Info("slash commands synchronized", "count", n)
	s.update(func(st *Status) { st.CommandSync = "ok" })
	return res
}
