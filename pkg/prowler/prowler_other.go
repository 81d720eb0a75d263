//go:build !linux && !windows

package prowler

import (
	"fmt"
	"runtime"

	e "apiscope/error"
	"apiscope/pkg/proc"
)

type Prowler struct {
	pid int
}

func NewProwler(pid int) (*Prowler, error) {
	return nil, fmt.Errorf("%w: live targets on %s", e.ErrUnsupported, runtime.GOOS)
}

func (p *Prowler) ReadMemory(buf []byte, addr uint64) (int, error) {
	return 0, e.ErrUnsupported
}

func (p *Prowler) QueryProtection(addr uint64) (proc.Protection, error) {
	return 0, e.ErrUnsupported
}

func (p *Prowler) SetProtection(addr, size uint64, prot proc.Protection) error {
	return e.ErrUnsupported
}

func (p *Prowler) Modules() ([]proc.Module, error) {
	return nil, e.ErrUnsupported
}

func (p *Prowler) MemoryMap() ([]proc.MemoryRegion, error) {
	return nil, e.ErrUnsupported
}

func (p *Prowler) Registers() (proc.Registers, error) {
	return proc.Registers{}, e.ErrUnsupported
}

func (p *Prowler) Close() error {
	return nil
}
