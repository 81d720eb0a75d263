//go:build windows && !amd64

package prowler

import (
	"fmt"

	"golang.org/x/sys/windows"

	e "apiscope/error"
	"apiscope/pkg/proc"
)

func nativeContext(thread windows.Handle) (proc.Registers, error) {
	return proc.Registers{}, fmt.Errorf("%w: native thread context on this architecture", e.ErrUnsupported)
}
