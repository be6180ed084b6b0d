package process

import (
	"errors"
	"os/exec"
	"strings"
	"time"
)

// ErrEmptyCommand is returned when a Spec has nothing to execute.
var ErrEmptyCommand = errors.New("process: empty command")

// Spec describes the worker process the supervisor keeps alive.
type Spec struct {
	Name    string   `json:"name"`
	Args    []string `json:"args"`     // argv; a single element is parsed like a shell command line
	WorkDir string   `json:"work_dir"` // optional working dir
	Env     []string `json:"env"`      // full environment; nil inherits the supervisor's
	// DrainTimeout bounds how long exit reporting waits for the output
	// streams to reach EOF after the process itself is gone. A grandchild
	// holding the pipes open would otherwise hide the exit forever.
	DrainTimeout time.Duration `json:"drain_timeout"`
}

// BuildCommand constructs an *exec.Cmd for the spec.
// Multi-element Args are executed directly. A single element is split on
// whitespace, unless it carries shell syntax or an explicit "sh -c", in which
// case it is handed to /bin/sh without double-wrapping.
func (s *Spec) BuildCommand() (*exec.Cmd, error) {
	if len(s.Args) > 1 {
		// #nosec G204
		return exec.Command(s.Args[0], s.Args[1:]...), nil
	}
	if len(s.Args) == 0 {
		return nil, ErrEmptyCommand
	}
	cmdStr := strings.TrimSpace(s.Args[0])
	if cmdStr == "" {
		return nil, ErrEmptyCommand
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC), nil
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr), nil
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...), nil
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr and returns the script after -c with one pair of
// surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
