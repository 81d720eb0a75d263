package prowler

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	e "apiscope/error"
	"apiscope/pkg/proc"
)

const (
	threadGetContext       = 0x0008
	threadQueryInformation = 0x0040
)

// Prowler works on a Windows process handle.
type Prowler struct {
	pid    int
	handle windows.Handle
	wow64  bool
}

func NewProwler(pid int) (*Prowler, error) {
	access := uint32(windows.PROCESS_VM_READ | windows.PROCESS_VM_OPERATION | windows.PROCESS_QUERY_INFORMATION)
	h, err := windows.OpenProcess(access, false, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("%w: open process %d: %v", e.ErrNotAttached, pid, err)
	}

	p := &Prowler{pid: pid, handle: h}
	if err := windows.IsWow64Process(h, &p.wow64); err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("attach %d: %w", pid, err)
	}
	return p, nil
}

// Wow64 reports whether the target is a 32-bit process on 64-bit
// Windows.
func (p *Prowler) Wow64() bool {
	return p.wow64
}

func (p *Prowler) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var n uintptr
	err := windows.ReadProcessMemory(p.handle, uintptr(addr), &buf[0], uintptr(len(buf)), &n)
	if err != nil {
		return int(n), fmt.Errorf("read %#x: %w", addr, err)
	}
	return int(n), nil
}

func (p *Prowler) query(addr uint64) (windows.MemoryBasicInformation, error) {
	var mbi windows.MemoryBasicInformation
	err := windows.VirtualQueryEx(p.handle, uintptr(addr), &mbi, unsafe.Sizeof(mbi))
	return mbi, err
}

// QueryProtection returns 0 for reserved and free pages.
func (p *Prowler) QueryProtection(addr uint64) (proc.Protection, error) {
	mbi, err := p.query(addr)
	if err != nil {
		return 0, fmt.Errorf("query %#x: %w", addr, err)
	}
	if mbi.State != windows.MEM_COMMIT {
		return 0, nil
	}
	return proc.Protection(mbi.Protect), nil
}

func (p *Prowler) SetProtection(addr, size uint64, prot proc.Protection) error {
	var old uint32
	if err := windows.VirtualProtectEx(p.handle, uintptr(addr), uintptr(size), uint32(prot), &old); err != nil {
		return fmt.Errorf("protect %#x+%#x: %w", addr, size, err)
	}
	return nil
}

func (p *Prowler) Modules() ([]proc.Module, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, uint32(p.pid))
	if err != nil {
		return nil, fmt.Errorf("module snapshot: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var me32 windows.ModuleEntry32
	me32.Size = uint32(unsafe.Sizeof(me32))
	if err := windows.Module32First(snapshot, &me32); err != nil {
		return nil, fmt.Errorf("Module32First failed: %w", err)
	}

	var mods []proc.Module
	for {
		mods = append(mods, proc.Module{
			Name: windows.UTF16ToString(me32.Module[:]),
			Path: windows.UTF16ToString(me32.ExePath[:]),
			Base: uint64(me32.ModBaseAddr),
			Size: uint64(me32.ModBaseSize),
		})
		if err := windows.Module32Next(snapshot, &me32); err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				break
			}
			return nil, fmt.Errorf("Module32Next failed: %w", err)
		}
	}
	return mods, nil
}

// MemoryMap walks the address space with VirtualQueryEx and keeps the
// committed regions.
func (p *Prowler) MemoryMap() ([]proc.MemoryRegion, error) {
	var regions []proc.MemoryRegion
	var addr uint64
	for {
		mbi, err := p.query(addr)
		if err != nil {
			break
		}

		if mbi.State == windows.MEM_COMMIT {
			regions = append(regions, proc.MemoryRegion{
				Base:       uint64(mbi.BaseAddress),
				Size:       uint64(mbi.RegionSize),
				Protection: proc.Protection(mbi.Protect),
			})
		}

		next := uint64(mbi.BaseAddress) + uint64(mbi.RegionSize)
		if next <= addr {
			break
		}
		addr = next
	}
	return regions, nil
}

// Registers returns the context of the first thread of the process, the
// one a debugger stopped at a breakpoint reports as current.
func (p *Prowler) Registers() (proc.Registers, error) {
	tid, err := p.firstThread()
	if err != nil {
		return proc.Registers{}, err
	}

	thread, err := windows.OpenThread(threadGetContext|threadQueryInformation, false, tid)
	if err != nil {
		return proc.Registers{}, fmt.Errorf("open thread %d: %w", tid, err)
	}
	defer windows.CloseHandle(thread)

	if p.wow64 {
		return wow64Context(thread)
	}
	return nativeContext(thread)
}

func (p *Prowler) firstThread() (uint32, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return 0, fmt.Errorf("thread snapshot: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var te32 windows.ThreadEntry32
	te32.Size = uint32(unsafe.Sizeof(te32))
	if err := windows.Thread32First(snapshot, &te32); err != nil {
		return 0, fmt.Errorf("Thread32First failed: %w", err)
	}
	for {
		if te32.OwnerProcessID == uint32(p.pid) {
			return te32.ThreadID, nil
		}
		if err := windows.Thread32Next(snapshot, &te32); err != nil {
			break
		}
	}
	return 0, fmt.Errorf("no thread found in process %d", p.pid)
}

func (p *Prowler) Close() error {
	return windows.CloseHandle(p.handle)
}
