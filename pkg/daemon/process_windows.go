//go:build windows

package daemon

import (
	"os"
)

// processAlive checks liveness by attempting to find the process; Windows
// has no signal-0 equivalent, so a successful FindProcess is the best
// available approximation.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
