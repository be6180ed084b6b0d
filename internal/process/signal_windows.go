//go:build windows

package process

import "os"

// signalGroup has no graceful variant on Windows; both paths terminate.
func signalGroup(pid int, _ bool) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
