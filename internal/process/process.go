package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// lineBuffer is how many unread lines each stream may queue before the
// child blocks on write.
const lineBuffer = 256

// Handle is one running instance of the worker. It is owned by a single
// goroutine; the accessors are still safe to call from others.
type Handle struct {
	name      string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	stdout chan string
	stderr chan string
	pipes  []*os.File

	state atomic.Int32
	done  chan struct{}

	mu       sync.Mutex
	exitCode int
	exitErr  error
	exitedAt time.Time
}

// Spawn starts the process described by spec with stdout and stderr captured
// line by line.
func Spawn(spec Spec) (*Handle, error) {
	cmd, err := spec.BuildCommand()
	if err != nil {
		return nil, err
	}
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW
	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	// The child holds its own copies; ours must go so EOF can arrive.
	closeAll(outW, errW)

	h := &Handle{
		name:      spec.Name,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		stdout:    make(chan string, lineBuffer),
		stderr:    make(chan string, lineBuffer),
		pipes:     []*os.File{outR, errR},
		done:      make(chan struct{}),
	}
	h.state.Store(int32(StateSpawned))

	var readers sync.WaitGroup
	readers.Add(2)
	go pump(outR, h.stdout, &readers)
	go pump(errR, h.stderr, &readers)
	go h.wait(&readers, spec.DrainTimeout)
	return h, nil
}

func pump(r io.Reader, ch chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(ch)
	br := bufio.NewReader(r)
	for {
		// a blank line is forwarded as ""; only EOF yields nothing.
		raw, err := br.ReadString('\n')
		if raw != "" {
			ch <- strings.TrimRight(raw, "\r\n")
		}
		if err != nil {
			return
		}
	}
}

func (h *Handle) wait(readers *sync.WaitGroup, drain time.Duration) {
	err := h.cmd.Wait()

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	if drain > 0 {
		t := time.NewTimer(drain)
		select {
		case <-drained:
			t.Stop()
		case <-t.C:
			// Something else still holds the write ends; stop reading.
			closeAll(h.pipes...)
			<-drained
		}
	} else {
		<-drained
	}
	closeAll(h.pipes...)

	code := -1
	if ps := h.cmd.ProcessState; ps != nil {
		code = ps.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero status is an ordinary exit, not a failure to wait.
		if code == -1 {
			err = fmt.Errorf("terminated: %s", exitErr.String())
		} else {
			err = nil
		}
	}
	h.mu.Lock()
	h.exitCode = code
	h.exitErr = err
	h.exitedAt = time.Now()
	h.mu.Unlock()
	h.state.Store(int32(StateExited))
	close(h.done)
}

// Name returns the spec name the handle was spawned from.
func (h *Handle) Name() string { return h.name }

// PID returns the operating-system process id.
func (h *Handle) PID() int { return h.pid }

// StartedAt is when Spawn returned.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed once the exit status is known and both streams are drained.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State reports the lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// TryReadStdout returns the next pending stdout line without blocking.
func (h *Handle) TryReadStdout() (string, bool) { return tryRead(h.stdout) }

// TryReadStderr returns the next pending stderr line without blocking.
func (h *Handle) TryReadStderr() (string, bool) { return tryRead(h.stderr) }

func tryRead(ch <-chan string) (string, bool) {
	select {
	case line, ok := <-ch:
		return line, ok
	default:
		return "", false
	}
}

// Exited reports the exit code once the process has terminated. The first
// call that finds the process alive moves the handle from spawned to running.
func (h *Handle) Exited() (int, bool) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exitCode, true
	default:
		h.state.CompareAndSwap(int32(StateSpawned), int32(StateRunning))
		return 0, false
	}
}

// Err is the wait error for abnormal terminations (signals, wait failures).
// It is nil for any ordinary exit, including non-zero codes.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Terminate asks the process group to stop and escalates to a kill after
// grace. It returns once the handle is done.
func (h *Handle) Terminate(grace time.Duration) {
	select {
	case <-h.done:
		return
	default:
	}
	_ = signalGroup(h.pid, false)
	if grace > 0 {
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-h.done:
			return
		case <-t.C:
		}
	}
	_ = signalGroup(h.pid, true)
	<-h.done
}

// Status returns a snapshot for reporting.
func (h *Handle) Status() Status {
	st := Status{
		Name:      h.name,
		PID:       h.pid,
		State:     h.State().String(),
		StartedAt: h.startedAt,
	}
	select {
	case <-h.done:
		h.mu.Lock()
		code := h.exitCode
		st.ExitCode = &code
		st.ExitedAt = h.exitedAt
		if h.exitErr != nil {
			st.ExitErr = h.exitErr.Error()
		}
		h.mu.Unlock()
	default:
	}
	return st
}

func closeAll(fs ...*os.File) {
	for _, f := range fs {
		if f != nil {
			_ = f.Close()
		}
	}
}
