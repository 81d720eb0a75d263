//go:build !unix && !windows

package utils

func CheckPid(pid int) bool {
	return false
}
