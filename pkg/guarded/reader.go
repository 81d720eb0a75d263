// Package guarded reads spans of a target's memory without tripping
// guard pages.
//
// Guard pages trap their first access: reading one naively either fails
// or consumes the guard the target relies on (stack probes, lazily
// committed regions). Reader clears the guard bit of every guard run it
// touches, reads granule by granule and restores the original
// protections before returning.
package guarded

import (
	"fmt"

	"apiscope/pkg/logflags"
	"apiscope/pkg/proc"
)

const (
	DefaultGranularity = 0x1000
	// MaxReadSize bounds a single Read; larger requests are truncated.
	MaxReadSize = 1 << 28
)

// Target is the part of a process the reader works against.
type Target interface {
	proc.MemoryReader
	proc.PageProtector
}

// GuardRun is a maximal run of contiguous guarded pages sharing one
// protection value.
type GuardRun struct {
	Start      uint64
	Size       uint64
	Protection proc.Protection
	// Unguarded is true when every page of the run had its guard bit
	// cleared before the data read.
	Unguarded bool
}

func (g GuardRun) String() string {
	return fmt.Sprintf("%#x+%#x (%s)", g.Start, g.Size, g.Protection)
}

// Region is the result of a single Read.
type Region struct {
	Addr uint64
	Size uint64
	Data []byte
	// Protection of the page containing Addr, 0 if it could not be
	// queried.
	Protection proc.Protection
	GuardRuns  []GuardRun
	// Unreadable counts granules that were left zero-filled.
	Unreadable int
}

type guardRun struct {
	GuardRun
	cleared []uint64
}

type Reader struct {
	target      Target
	logger      logflags.Logger
	granularity uint64
	maxSize     uint64
}

func NewReader(target Target, logger logflags.Logger) *Reader {
	return NewReaderSize(target, logger, DefaultGranularity)
}

// NewReaderSize returns a Reader walking memory in granules of the
// given size, which must be a power of two.
func NewReaderSize(target Target, logger logflags.Logger, granularity uint64) *Reader {
	if granularity == 0 || granularity&(granularity-1) != 0 {
		granularity = DefaultGranularity
	}
	if logger == nil {
		logger = logflags.Nop()
	}
	return &Reader{
		target:      target,
		logger:      logger,
		granularity: granularity,
		maxSize:     MaxReadSize,
	}
}

func (r *Reader) Granularity() uint64 {
	return r.granularity
}

// Read returns size bytes starting at base. Granules that cannot be
// read are zero-filled; Read never fails as a whole. A range running past
// the end of the address space or longer than MaxReadSize is truncated,
// Region.Size tells how much was read.
func (r *Reader) Read(base, size uint64) Region {
	if base+size < base {
		size = ^uint64(0) - base
	}
	if size > r.maxSize {
		r.logger.Warnw("read truncated", "addr", hexAddr(base), "size", hexAddr(size), "max", hexAddr(r.maxSize))
		size = r.maxSize
	}
	region := Region{Addr: base, Size: size}

	prot, err := r.target.QueryProtection(base)
	if err != nil {
		r.logger.Warnw("protection query failed, reading without guard handling",
			"addr", hexAddr(base), "err", err)
		prot = 0
	}
	region.Protection = prot
	region.Data = make([]byte, size)

	if size == 0 {
		return region
	}

	runs := r.guardRuns(base, size, prot)
	defer r.restore(runs)

	guarded := r.unguard(runs)
	region.Unreadable = r.readGranules(region.Data, base, size, guarded)

	for _, run := range runs {
		region.GuardRuns = append(region.GuardRuns, run.GuardRun)
	}
	return region
}

func (r *Reader) align(addr uint64) uint64 {
	return addr &^ (r.granularity - 1)
}

// guardRuns collects the guard runs overlapping [base, base+size),
// extended on both ends so that runs are always handled whole.
func (r *Reader) guardRuns(base, size uint64, leading proc.Protection) []*guardRun {
	g := r.granularity
	first := r.align(base)
	last := r.align(base + size - 1)

	var (
		runs []*guardRun
		cur  *guardRun
	)

	if leading.Guarded() {
		cur = &guardRun{GuardRun: GuardRun{Start: first, Size: g, Protection: leading}}
		for ea := first; ea >= g; {
			ea -= g
			p, err := r.target.QueryProtection(ea)
			if err != nil || p != cur.Protection {
				break
			}
			cur.Start = ea
			cur.Size += g
		}
		runs = append(runs, cur)
	}

	for i, n := uint64(1), (last-first)/g; i <= n; i++ {
		page := first + i*g
		p, err := r.target.QueryProtection(page)
		if err != nil || !p.Guarded() {
			cur = nil
			continue
		}
		if cur != nil && cur.Protection == p {
			cur.Size += g
			continue
		}
		cur = &guardRun{GuardRun: GuardRun{Start: page, Size: g, Protection: p}}
		runs = append(runs, cur)
	}

	// cur is still set only when the last granule of the range is guarded.
	if cur != nil {
		for ea := last + g; ea > last; ea += g {
			p, err := r.target.QueryProtection(ea)
			if err != nil || p != cur.Protection {
				break
			}
			cur.Size += g
		}
	}

	return runs
}

// unguard clears the guard bit page by page. It returns the pages that
// are still guarded because their protection could not be changed.
func (r *Reader) unguard(runs []*guardRun) map[uint64]bool {
	g := r.granularity
	var guarded map[uint64]bool

	for _, run := range runs {
		run.Unguarded = true
		for off := uint64(0); off < run.Size; off += g {
			page := run.Start + off
			if err := r.target.SetProtection(page, g, run.Protection.Unguarded()); err != nil {
				r.logger.Warnw("could not clear guard bit",
					"addr", hexAddr(page), "protect", hexAddr(uint64(run.Protection)), "err", err)
				run.Unguarded = false
				if guarded == nil {
					guarded = make(map[uint64]bool)
				}
				guarded[page] = true
				continue
			}
			run.cleared = append(run.cleared, page)
		}
		r.logger.Debugw("guard run", "run", run.GuardRun.String(), "unguarded", run.Unguarded)
	}

	return guarded
}

// restore puts back the original protection of every page unguard
// managed to change. Failures are reported, not retried.
func (r *Reader) restore(runs []*guardRun) {
	g := r.granularity
	for _, run := range runs {
		for _, page := range run.cleared {
			if err := r.target.SetProtection(page, g, run.Protection); err != nil {
				r.logger.Errorw("could not restore page protection",
					"addr", hexAddr(page), "size", hexAddr(g), "protect", hexAddr(uint64(run.Protection)), "err", err)
			}
		}
	}
}

// readGranules fills data one granule at a time and returns the number
// of granules left zero-filled.
func (r *Reader) readGranules(data []byte, base, size uint64, guarded map[uint64]bool) int {
	g := r.granularity
	end := base + size
	unreadable := 0

	for page := r.align(base); page < end && page >= r.align(base); page += g {
		lo, hi := page, page+g
		if lo < base {
			lo = base
		}
		if hi > end || hi < page {
			hi = end
		}
		chunk := data[lo-base : hi-base]

		if guarded[page] {
			unreadable++
			continue
		}

		n, err := r.target.ReadMemory(chunk, lo)
		if err != nil || n < len(chunk) {
			clear(chunk)
			unreadable++
			r.logger.Debugw("granule unreadable", "addr", hexAddr(lo), "size", hexAddr(hi-lo), "err", err)
		}
	}

	return unreadable
}

func hexAddr(v uint64) string {
	return fmt.Sprintf("%#x", v)
}
