//go:build !windows

package process

import "syscall"

// signalGroup sends SIGTERM (or SIGKILL when kill is set) to the process group.
func signalGroup(pid int, kill bool) error {
	sig := syscall.SIGTERM
	if kill {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}
