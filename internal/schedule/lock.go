package schedule

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// AcquireLock takes a pid-file lock so two runs never burn double API
// quota. A lock whose process is gone is stale and gets replaced. The
// returned release removes the lock.
func AcquireLock(path string) (func(), error) {
	if raw, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err == nil && processAlive(pid) {
			return nil, fmt.Errorf("another instance is running (pid %d); remove %s if stale", pid, path)
		}
		os.Remove(path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return func() { os.Remove(path) }, nil
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
