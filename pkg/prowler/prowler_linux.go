package prowler

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	e "apiscope/error"
	"apiscope/pkg/proc"
	"apiscope/utils"
)

// Prowler reads a Linux process through process_vm_readv. Linux has no
// guard bit, so protections are never changed.
type Prowler struct {
	pid int
	exe string
}

func NewProwler(pid int) (*Prowler, error) {
	if !utils.CheckPid(pid) {
		return nil, fmt.Errorf("%w: no process %d", e.ErrNotAttached, pid)
	}
	exe, err := utils.ExecutablePath(pid)
	if err != nil {
		return nil, fmt.Errorf("attach %d: %w", pid, err)
	}
	return &Prowler{pid: pid, exe: exe}, nil
}

func (p *Prowler) Executable() string {
	return p.exe
}

func (p *Prowler) maps() ([]mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMaps(f)
}

func (p *Prowler) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := readMemory(p.pid, buf, uintptr(addr))
	if err != nil {
		return n, fmt.Errorf("read %#x: %w", addr, err)
	}
	if n < len(buf) {
		return n, fmt.Errorf("read %#x: %w", addr, io.ErrUnexpectedEOF)
	}
	return n, nil
}

func readMemory(pid int, data []byte, ptr uintptr) (int, error) {
	localIov := []unix.Iovec{{Base: &data[0]}}
	localIov[0].SetLen(len(data))

	remoteIov := []unix.RemoteIovec{
		{
			Base: ptr,
			Len:  len(data),
		},
	}

	return unix.ProcessVMReadv(pid, localIov, remoteIov, 0)
}

// QueryProtection returns 0 for unmapped addresses.
func (p *Prowler) QueryProtection(addr uint64) (proc.Protection, error) {
	maps, err := p.maps()
	if err != nil {
		return 0, err
	}
	m, ok := findMapping(maps, addr)
	if !ok {
		return 0, nil
	}
	return proc.ParsePerms(m.Perms), nil
}

func (p *Prowler) SetProtection(addr, size uint64, prot proc.Protection) error {
	return fmt.Errorf("%w: changing protections of another process", e.ErrUnsupported)
}

func (p *Prowler) Modules() ([]proc.Module, error) {
	maps, err := p.maps()
	if err != nil {
		return nil, err
	}
	return mapsModules(maps), nil
}

func (p *Prowler) MemoryMap() ([]proc.MemoryRegion, error) {
	maps, err := p.maps()
	if err != nil {
		return nil, err
	}
	return mapsRegions(maps), nil
}

// Registers needs the thread stopped under ptrace, which a read-only
// observer does not do.
func (p *Prowler) Registers() (proc.Registers, error) {
	return proc.Registers{}, fmt.Errorf("%w: thread context", e.ErrUnsupported)
}

func (p *Prowler) Close() error {
	return nil
}
