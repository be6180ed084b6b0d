package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/rankvisor/internal/history"
	"github.com/loykin/rankvisor/internal/metrics"
	"github.com/loykin/rankvisor/internal/process"
)

type record struct {
	level slog.Level
	msg   string
}

// recorder is a slog.Handler that keeps every record in memory.
type recorder struct {
	mu   *sync.Mutex
	recs *[]record
}

func newRecorder() recorder { return recorder{mu: &sync.Mutex{}, recs: &[]record{}} }

func (r recorder) Enabled(context.Context, slog.Level) bool { return true }
func (r recorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.recs = append(*r.recs, record{rec.Level, rec.Message})
	return nil
}
func (r recorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r recorder) WithGroup(string) slog.Handler      { return r }

func (r recorder) matching(level slog.Level, prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rec := range *r.recs {
		if rec.level == level && strings.HasPrefix(rec.msg, prefix) {
			out = append(out, rec.msg)
		}
	}
	return out
}

type fakeChild struct {
	mu         sync.Mutex
	pid        int
	out, errs  []string
	livePolls  int // Exited reports false this many times
	code       int
	terminated bool
}

func (c *fakeChild) PID() int { return c.pid }

func pop(s *[]string) (string, bool) {
	if len(*s) == 0 {
		return "", false
	}
	l := (*s)[0]
	*s = (*s)[1:]
	return l, true
}

func (c *fakeChild) TryReadStdout() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pop(&c.out)
}

func (c *fakeChild) TryReadStderr() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pop(&c.errs)
}

func (c *fakeChild) Exited() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return c.code, true
	}
	if c.livePolls < 0 {
		return 0, false
	}
	if c.livePolls == 0 {
		return c.code, true
	}
	c.livePolls--
	return 0, false
}

func (c *fakeChild) Err() error { return nil }

func (c *fakeChild) Terminate(time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
	c.code = -1
}

func baseOptions(rec recorder) Options {
	return Options{
		Spec:         process.Spec{Name: "bot"},
		PollInterval: time.Millisecond,
		Log:          slog.New(rec),
		NewTicker: func(time.Duration) (<-chan time.Time, func()) {
			return make(chan time.Time), func() {}
		},
	}
}

func TestCrashLoopSpawnsOncePerDelay(t *testing.T) {
	const n = 5
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var spawns int
	var delays []time.Duration
	o := baseOptions(rec)
	o.Spawn = func(process.Spec) (Child, error) {
		spawns++
		return &fakeChild{pid: 100 + spawns, code: 1}, nil
	}
	o.Sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == n {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	sup := New(o)
	require.NoError(t, sup.Run(ctx))

	assert.Equal(t, n, spawns)
	require.Len(t, delays, n)
	for _, d := range delays {
		assert.Equal(t, 10*time.Second, d)
	}
	assert.Len(t, rec.matching(slog.LevelWarn, "bot process exited with code 1"), n)
	assert.Len(t, rec.matching(slog.LevelInfo, "bot process ended, restarting in 10s"), n)
	assert.Equal(t, n, sup.Status().Spawns)
	assert.False(t, sup.Running())
}

func TestSpawnFailureIsTreatedLikeExit(t *testing.T) {
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	o := baseOptions(rec)
	o.Spawn = func(process.Spec) (Child, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("exec: not found")
		}
		return &fakeChild{pid: 9, code: 0}, nil
	}
	var delays []time.Duration
	o.Sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	sup := New(o)
	require.NoError(t, sup.Run(ctx))

	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, delays)
	assert.Len(t, rec.matching(slog.LevelError, "failed to start bot process"), 2)
	st := sup.Status()
	assert.Equal(t, 2, st.SpawnFailures)
	assert.Equal(t, 1, st.Spawns)
}

func TestMonitorForwardsOutputWithPrefixes(t *testing.T) {
	rec := newRecorder()
	sup := New(baseOptions(rec))
	child := &fakeChild{
		pid:       1,
		out:       []string{"ready", "logged in as rankbot"},
		errs:      []string{"warn: slow gateway"},
		livePolls: 2,
		code:      3,
	}
	code, terminated := sup.monitor(context.Background(), child)
	assert.Equal(t, 3, code)
	assert.False(t, terminated)
	assert.Equal(t, []string{"[BOT] ready", "[BOT] logged in as rankbot"}, rec.matching(slog.LevelInfo, "[BOT]"))
	assert.Equal(t, []string{"[BOT ERROR] warn: slow gateway"}, rec.matching(slog.LevelError, "[BOT ERROR]"))
}

func TestMonitorFinalDrainAfterExit(t *testing.T) {
	rec := newRecorder()
	sup := New(baseOptions(rec))
	// Output is only visible together with the exit.
	child := &fakeChild{pid: 1, code: 0}
	child.out = []string{"last words"}
	_, _ = sup.monitor(context.Background(), child)
	assert.Equal(t, []string{"[BOT] last words"}, rec.matching(slog.LevelInfo, "[BOT]"))
}

func TestHeartbeatCountFollowsTicks(t *testing.T) {
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan time.Time)
	o := baseOptions(rec)
	o.NewTicker = func(d time.Duration) (<-chan time.Time, func()) {
		assert.Equal(t, 5*time.Minute, d)
		return ticks, func() {}
	}
	restarts := 0
	o.Spawn = func(process.Spec) (Child, error) { return &fakeChild{pid: 2, code: 1}, nil }
	o.Sleep = func(ctx context.Context, d time.Duration) error {
		restarts++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
			return nil
		}
	}
	sup := New(o)
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	for i := 0; i < 4; i++ {
		ticks <- time.Now()
	}
	require.Eventually(t, func() bool {
		return len(rec.matching(slog.LevelInfo, "[HEARTBEAT]")) == 4
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, rec.matching(slog.LevelInfo, "[HEARTBEAT]"), 4)
	assert.Greater(t, restarts, 0, "child churn is independent of heartbeats")
	assert.False(t, sup.Status().LastHeartbeat.IsZero())
}

func TestHeartbeatRealTicker(t *testing.T) {
	rec := newRecorder()
	sup := New(Options{Log: slog.New(rec), HeartbeatInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	tick := time.NewTicker(sup.opts.HeartbeatInterval)
	defer tick.Stop()
	sup.heartbeatLoop(ctx, tick.C)

	// floor(110ms / 20ms) = 5, with one tick of scheduling slack
	n := len(rec.matching(slog.LevelInfo, "[HEARTBEAT]"))
	assert.GreaterOrEqual(t, n, 4)
	assert.LessOrEqual(t, n, 5)
}

func TestCommandSyncRunsOnceAndFailureIsNonFatal(t *testing.T) {
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncs := 0
	spawns := 0
	o := baseOptions(rec)
	o.Sync = func(context.Context) (int, error) {
		syncs++
		return 0, errors.New("401 unauthorized")
	}
	o.Spawn = func(process.Spec) (Child, error) {
		spawns++
		return &fakeChild{pid: 3}, nil
	}
	o.Sleep = func(ctx context.Context, d time.Duration) error {
		if spawns == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	sup := New(o)
	require.NoError(t, sup.Run(ctx))

	assert.Equal(t, 1, syncs)
	assert.Equal(t, 3, spawns)
	assert.Len(t, rec.matching(slog.LevelError, "command synchronization failed"), 1)
	assert.Equal(t, "failed", sup.Status().CommandSync)
}

func TestSyncResult(t *testing.T) {
	sup := New(Options{Sync: func(context.Context) (int, error) { return 4, nil }})
	res := sup.syncCommands(context.Background())
	assert.Equal(t, SyncResult{Registered: 4}, res)
	assert.Equal(t, "ok", sup.Status().CommandSync)

	res = New(Options{}).syncCommands(context.Background())
	assert.True(t, res.Skipped)
}

func TestShutdownTerminatesChild(t *testing.T) {
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	child := &fakeChild{pid: 5, livePolls: -1}
	o := baseOptions(rec)
	spawned := make(chan struct{})
	o.Spawn = func(process.Spec) (Child, error) {
		close(spawned)
		return child, nil
	}
	o.Sleep = func(context.Context, time.Duration) error {
		t.Error("no restart delay expected after shutdown")
		return nil
	}
	sup := New(o)
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	<-spawned
	require.Eventually(t, func() bool { return sup.PID() == 5 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	child.mu.Lock()
	assert.True(t, child.terminated)
	child.mu.Unlock()
	assert.Equal(t, 0, sup.PID())
	assert.Len(t, rec.matching(slog.LevelInfo, "supervisor stopping"), 1)
}

func TestExponentialDelayNeverDecreasesInStreak(t *testing.T) {
	sup := New(Options{RestartDelay: time.Second, RestartMaxDelay: 8 * time.Second})
	p := sup.delayPolicy()
	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, p.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second,
	}, got)

	fixed := New(Options{}).delayPolicy()
	for i := 0; i < 3; i++ {
		assert.Equal(t, 10*time.Second, fixed.NextBackOff())
	}
}

func TestRunTwiceIsRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := baseOptions(newRecorder())
	started := make(chan struct{})
	o.Spawn = func(process.Spec) (Child, error) {
		select {
		case <-started:
		default:
			close(started)
		}
		return &fakeChild{pid: 1, livePolls: -1}, nil
	}
	sup := New(o)
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	<-started
	require.Error(t, sup.Run(ctx))
	cancel()
	require.NoError(t, <-done)
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func TestHistoryAndMetricsWiring(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &memSink{}
	o := baseOptions(newRecorder())
	o.History = history.NewRecorder(nil, sink)
	o.Metrics = metrics.NewSupervisor()
	calls := 0
	o.Spawn = func(process.Spec) (Child, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return &fakeChild{pid: 11, code: 2}, nil
	}
	sleeps := 0
	o.Sleep = func(ctx context.Context, _ time.Duration) error {
		sleeps++
		if sleeps == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	require.NoError(t, New(o).Run(ctx))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 3)
	assert.Equal(t, history.EventSpawnFailed, sink.events[0].Type)
	assert.Equal(t, "boom", sink.events[0].Error)
	assert.Equal(t, history.EventSpawn, sink.events[1].Type)
	assert.Equal(t, history.EventExit, sink.events[2].Type)
	require.NotNil(t, sink.events[2].ExitCode)
	assert.Equal(t, 2, *sink.events[2].ExitCode)
	assert.Equal(t, 2, sink.events[2].Attempt)
}
