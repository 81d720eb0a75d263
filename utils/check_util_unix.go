//go:build unix

package utils

import (
	"errors"

	"golang.org/x/sys/unix"
)

// CheckPid reports whether a process with the given pid exists.
func CheckPid(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
