//go:build linux

package utils

import (
	"fmt"
	"os"
)

// ExecutablePath resolves the image the process was started from.
func ExecutablePath(pid int) (string, error) {
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return "", fmt.Errorf("executable of %d: %w", pid, err)
	}
	return path, nil
}
