package store

import (
	"errors"
	"os"
	"syscall"
)

// ProcessAlive reports whether a process with the given pid exists on this host.
// It is a variable so tests can simulate dead processes.
var ProcessAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// The process exists but belongs to another user.
	return errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM)
}
