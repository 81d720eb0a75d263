// Package proctest provides an in-memory process with a simulated page
// table for tests.
package proctest

import (
	"fmt"
	"sort"

	"apiscope/pkg/proc"
)

const PageSize = 0x1000

type page struct {
	prot       proc.Protection
	data       [PageSize]byte
	unreadable bool
}

// Process is a fake proc.Process. Reading a guarded page faults and
// clears the guard bit, like the real thing.
type Process struct {
	pages map[uint64]*page

	ModuleList   []proc.Module
	ModulesErr   error
	Regs         proc.Registers
	RegsErr      error
	FailQuery    map[uint64]bool
	FailSet      map[uint64]bool
	FailRestore  map[uint64]bool
	PanicOnRead  map[uint64]bool
	QueryCalls   int
	SetCalls     int
	ReadCalls    int
	GuardFaults  int
	unguardedSet map[uint64]bool
}

func New() *Process {
	return &Process{
		pages:        make(map[uint64]*page),
		FailQuery:    make(map[uint64]bool),
		FailSet:      make(map[uint64]bool),
		FailRestore:  make(map[uint64]bool),
		PanicOnRead:  make(map[uint64]bool),
		unguardedSet: make(map[uint64]bool),
	}
}

func pageOf(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// Map maps data at addr (page aligned) with the given protection. The
// mapping is rounded up to whole pages; a nil data maps zeroed pages
// covering size bytes.
func (p *Process) Map(addr uint64, data []byte, prot proc.Protection) {
	p.MapSize(addr, uint64(len(data)), prot)
	p.Write(addr, data)
}

func (p *Process) MapSize(addr, size uint64, prot proc.Protection) {
	for a := pageOf(addr); a < addr+size; a += PageSize {
		if _, ok := p.pages[a]; !ok {
			p.pages[a] = &page{}
		}
		p.pages[a].prot = prot
	}
}

// Write stores data in already mapped pages, ignoring protections.
func (p *Process) Write(addr uint64, data []byte) {
	for i := range data {
		pg, ok := p.pages[pageOf(addr+uint64(i))]
		if !ok {
			panic(fmt.Sprintf("proctest: write to unmapped address %#x", addr+uint64(i)))
		}
		pg.data[(addr+uint64(i))%PageSize] = data[i]
	}
}

// Protect overrides the protection of the page containing addr.
func (p *Process) Protect(addr uint64, prot proc.Protection) {
	p.pages[pageOf(addr)].prot = prot
}

// Protection returns the current protection of the page containing addr.
func (p *Process) Protection(addr uint64) proc.Protection {
	pg, ok := p.pages[pageOf(addr)]
	if !ok {
		return 0
	}
	return pg.prot
}

// Protections snapshots every mapped page's protection.
func (p *Process) Protections() map[uint64]proc.Protection {
	m := make(map[uint64]proc.Protection, len(p.pages))
	for a, pg := range p.pages {
		m[a] = pg.prot
	}
	return m
}

// MarkUnreadable makes reads of the page containing addr fail without
// changing its reported protection (paged out, racing unmap).
func (p *Process) MarkUnreadable(addr uint64) {
	p.pages[pageOf(addr)].unreadable = true
}

func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	p.ReadCalls++
	for i := range buf {
		a := addr + uint64(i)
		if p.PanicOnRead[pageOf(a)] {
			panic(fmt.Sprintf("proctest: read of %#x", a))
		}
		pg, ok := p.pages[pageOf(a)]
		if !ok {
			return i, fmt.Errorf("read of unmapped address %#x", a)
		}
		if pg.prot.Guarded() {
			p.GuardFaults++
			pg.prot = pg.prot.Unguarded()
			return i, fmt.Errorf("guard page violation at %#x", a)
		}
		if pg.unreadable || !pg.prot.Readable() {
			return i, fmt.Errorf("access violation at %#x", a)
		}
		buf[i] = pg.data[a%PageSize]
	}
	return len(buf), nil
}

func (p *Process) QueryProtection(addr uint64) (proc.Protection, error) {
	p.QueryCalls++
	if p.FailQuery[pageOf(addr)] {
		return 0, fmt.Errorf("query of %#x failed", addr)
	}
	return p.Protection(addr), nil
}

func (p *Process) SetProtection(addr, size uint64, prot proc.Protection) error {
	p.SetCalls++
	for a := pageOf(addr); a < addr+size; a += PageSize {
		pg, ok := p.pages[a]
		if !ok {
			return fmt.Errorf("protect of unmapped address %#x", a)
		}
		if p.FailSet[a] {
			return fmt.Errorf("protect of %#x failed", a)
		}
		if p.FailRestore[a] && p.unguardedSet[a] {
			return fmt.Errorf("restore of %#x failed", a)
		}
		if pg.prot.Guarded() && !prot.Guarded() {
			p.unguardedSet[a] = true
		}
		pg.prot = prot
	}
	return nil
}

func (p *Process) Modules() ([]proc.Module, error) {
	if p.ModulesErr != nil {
		return nil, p.ModulesErr
	}
	return append([]proc.Module(nil), p.ModuleList...), nil
}

// MemoryMap coalesces adjacent pages with equal protections.
func (p *Process) MemoryMap() ([]proc.MemoryRegion, error) {
	addrs := make([]uint64, 0, len(p.pages))
	for a := range p.pages {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var regions []proc.MemoryRegion
	for _, a := range addrs {
		prot := p.pages[a].prot
		if n := len(regions); n > 0 {
			last := &regions[n-1]
			if last.Base+last.Size == a && last.Protection == prot {
				last.Size += PageSize
				continue
			}
		}
		regions = append(regions, proc.MemoryRegion{Base: a, Size: PageSize, Protection: prot})
	}
	return regions, nil
}

func (p *Process) Registers() (proc.Registers, error) {
	return p.Regs, p.RegsErr
}
