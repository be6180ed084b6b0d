package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/rankvisor/internal/history"
)

// pollBatch bounds how many lines of each stream one poll forwards, so a
// child that never stops writing cannot starve shutdown.
const pollBatch = 1024

// stableRun is how long a child must stay up for the exponential restart
// delay to fall back to its initial value.
const stableRun = time.Minute

// delayPolicy returns the restart delay sequence. With no max delay (or a
// max equal to the delay) every wait is RestartDelay.
func (s *Supervisor) delayPolicy() backoff.BackOff {
	if s.opts.RestartMaxDelay <= s.opts.RestartDelay {
		return backoff.NewConstantBackOff(s.opts.RestartDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RestartDelay
	b.MaxInterval = s.opts.RestartMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (s *Supervisor) restartLoop(ctx context.Context) {
	policy := s.delayPolicy()
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		res := s.runOnce(ctx, attempt)
		if res.Terminated || ctx.Err() != nil {
			s.log.Info("supervisor stopping", "attempt", attempt)
			return
		}
		if res.Started && res.Runtime >= stableRun {
			policy.Reset()
		}
		delay := policy.NextBackOff()
		s.update(func(st *Status) { st.NextDelay = delay.String() })
		s.log.Info(fmt.Sprintf("bot process ended, restarting in %s", delay), "attempt", attempt)
		if err := s.opts.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// runOnce spawns and monitors one child. Spawn errors come back in the
// result; they never stop the loop.
func (s *Supervisor) runOnce(ctx context.Context, attempt int) ChildResult {
	res := ChildResult{Attempt: attempt}
	child, err := s.opts.Spawn(s.opts.Spec)
	if err != nil {
		res.Err = err
		s.log.Error("failed to start bot process", "attempt", attempt, "error", err)
		s.opts.Metrics.IncSpawnFailure()
		s.update(func(st *Status) { st.SpawnFailures++ })
		s.opts.History.Record(ctx, history.Event{Type: history.EventSpawnFailed, Name: s.opts.Spec.Name, Attempt: attempt, Error: err.Error()})
		return res
	}
	res.Started = true
	res.PID = child.PID()
	started := time.Now()
	s.log.Info("bot process started", "pid", res.PID, "attempt", attempt)
	s.opts.Metrics.IncSpawn()
	s.update(func(st *Status) {
		st.Spawns++
		st.ChildPID = res.PID
		st.ChildUp = true
	})
	s.opts.History.Record(ctx, history.Event{Type: history.EventSpawn, Name: s.opts.Spec.Name, PID: res.PID, Attempt: attempt})

	code, terminated := s.monitor(ctx, child)
	res.ExitCode = code
	res.Terminated = terminated
	res.Runtime = time.Since(started)
	res.Err = child.Err()

	s.log.Warn(fmt.Sprintf("bot process exited with code %d", code), "pid", res.PID, "runtime", res.Runtime.Round(time.Millisecond))
	s.opts.Metrics.ObserveExit(code)
	now := time.Now()
	s.update(func(st *Status) {
		st.ChildUp = false
		st.LastExitCode = &code
		st.LastExitAt = now
	})
	ev := history.Event{Type: history.EventExit, Name: s.opts.Spec.Name, PID: res.PID, Attempt: attempt, ExitCode: &code}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	s.opts.History.Record(ctx, ev)
	return res
}

// monitor forwards child output to the log every poll interval until the
// child exits. When ctx is cancelled the child is terminated first. After
// monitor returns the child is never touched again.
func (s *Supervisor) monitor(ctx context.Context, child Child) (code int, terminated bool) {
	t := time.NewTicker(s.opts.PollInterval)
	defer t.Stop()
	for {
		s.drain(child, pollBatch)
		if c, ok := child.Exited(); ok {
			s.drain(child, -1)
			return c, false
		}
		select {
		case <-ctx.Done():
			return s.terminate(child, t.C), true
		case <-t.C:
		}
	}
}

// terminate stops the child while still forwarding its output, so a child
// blocked on a full stream buffer can exit.
func (s *Supervisor) terminate(child Child, tick <-chan time.Time) int {
	s.log.Info("stopping bot process", "pid", child.PID(), "grace", s.opts.ShutdownGrace)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		child.Terminate(s.opts.ShutdownGrace)
	}()
	for {
		s.drain(child, pollBatch)
		select {
		case <-stopped:
			s.drain(child, -1)
			c, _ := child.Exited()
			return c
		case <-tick:
		}
	}
}

// drain forwards pending lines; limit < 0 means until nothing is pending.
func (s *Supervisor) drain(child Child, limit int) {
	for n := 0; limit < 0 || n < limit; n++ {
		line, ok := child.TryReadStdout()
		if !ok {
			break
		}
		s.log.Info("[BOT] " + line)
	}
	for n := 0; limit < 0 || n < limit; n++ {
		line, ok := child.TryReadStderr()
		if !ok {
			break
		}
		s.log.Error("[BOT ERROR] " + line)
	}
}

// heartbeatLoop emits one line per tick until ctx is done. It shares nothing
// with the restart loop except the logger.
func (s *Supervisor) heartbeatLoop(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case now, ok := <-tick:
			if !ok {
				return
			}
			s.log.Info("[HEARTBEAT] supervisor is still running", "at", now.UTC().Format(time.RFC3339))
			s.opts.Metrics.IncHeartbeat()
			s.mu.Lock()
			s.heartbeat = now
			s.mu.Unlock()
		}
	}
}
