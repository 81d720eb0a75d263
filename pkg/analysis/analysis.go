// Package analysis answers the questions a debugger front-end asks about
// a live target: its memory map, raw memory, PE headers and the external
// API references of a code range.
package analysis

import (
	"encoding/binary"
	"fmt"
	"sync"

	e "apiscope/error"
	"apiscope/pkg/disasm"
	"apiscope/pkg/guarded"
	"apiscope/pkg/logflags"
	"apiscope/pkg/modules"
	"apiscope/pkg/pe"
	"apiscope/pkg/proc"
	"apiscope/pkg/scanner"
)

type Config struct {
	// Bits is the decoder mode, 32 or 64.
	Bits   int
	Syntax disasm.Syntax
	// PointerSize is the width of the raw pointer scan, 4 or 8. It
	// defaults to Bits/8.
	PointerSize int
	Granularity uint64
}

func (c Config) withDefaults() Config {
	if c.Bits == 0 {
		c.Bits = 32
	}
	if c.Syntax == "" {
		c.Syntax = disasm.IntelSyntax
	}
	if c.PointerSize == 0 {
		c.PointerSize = c.Bits / 8
	}
	if c.Granularity == 0 {
		c.Granularity = guarded.DefaultGranularity
	}
	return c
}

// Loggers injects one logger per component. Nil fields use the
// corresponding logflags component logger.
type Loggers struct {
	Analysis logflags.Logger
	Memory   logflags.Logger
	Index    logflags.Logger
	Scan     logflags.Logger
}

func (l Loggers) withDefaults() Loggers {
	if l.Analysis == nil {
		l.Analysis = logflags.AnalysisLogger()
	}
	if l.Memory == nil {
		l.Memory = logflags.MemoryLogger()
	}
	if l.Index == nil {
		l.Index = logflags.IndexLogger()
	}
	if l.Scan == nil {
		l.Scan = logflags.ScanLogger()
	}
	return l
}

// APIConstant is a pointer-sized value in the analysed range that equals
// the address of an export.
type APIConstant struct {
	Addr   uint64
	Value  uint64
	Module string
	Proc   string
}

type Result struct {
	Context      proc.Registers
	APIConstants []APIConstant
	Refs         []scanner.Hit
}

type RegionRequest struct {
	Addr uint64
	Size uint64
}

type MemoryChunk struct {
	Addr       uint64
	Size       uint64
	Data       []byte
	Protection proc.Protection
}

type PEHeaders struct {
	Valid    bool
	Exports  []pe.Export
	Sections []pe.Section
}

// Analyzer serialises every operation: a target is inspected by one
// request at a time.
type Analyzer struct {
	mu sync.Mutex

	target  proc.Process
	config  Config
	logger  logflags.Logger
	reader  *guarded.Reader
	index   *modules.Index
	scanner *scanner.Scanner
}

func New(target proc.Process, config Config, loggers Loggers) (*Analyzer, error) {
	config = config.withDefaults()
	if config.PointerSize != 4 && config.PointerSize != 8 {
		return nil, fmt.Errorf("%w: pointer size %d", e.ErrInvalidArgument, config.PointerSize)
	}

	decoder, err := disasm.NewX86(config.Bits, config.Syntax)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrInvalidArgument, err)
	}

	loggers = loggers.withDefaults()
	reader := guarded.NewReaderSize(target, loggers.Memory, config.Granularity)
	return &Analyzer{
		target:  target,
		config:  config,
		logger:  loggers.Analysis,
		reader:  reader,
		index:   modules.NewIndex(target, reader, loggers.Index),
		scanner: scanner.New(decoder, loggers.Scan),
	}, nil
}

func (a *Analyzer) Config() Config {
	return a.config
}

// AnalyzeExternalRefs reports the instructions in [from, to) referencing
// exports of other modules, and the pointer-sized values in the same
// range that are export addresses. The module containing base (or, if
// none does, overlapping [base, base+size)) is the analysed module and
// its own exports are never reported.
func (a *Analyzer) AnalyzeExternalRefs(from, to, step, base, size uint64) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := &Result{}
	if from > to || step == 0 || to-from > guarded.MaxReadSize {
		a.logger.Errorw("invalid arguments passed",
			"from", hexAddr(from), "to", hexAddr(to), "step", step)
		return result, fmt.Errorf("%w: analyze [%#x, %#x) step %d", e.ErrInvalidArgument, from, to, step)
	}

	snap, err := a.index.Refresh()
	if err != nil {
		return result, err
	}

	region := a.reader.Read(from, to-from)
	if region.Unreadable > 0 {
		a.logger.Warnw("part of the range is unreadable",
			"addr", hexAddr(from), "size", hexAddr(to-from), "granules", region.Unreadable)
	}

	result.Context, err = a.target.Registers()
	if err != nil {
		a.logger.Warnw("could not read thread context", "err", err)
		result.Context = proc.Registers{}
	}

	selfBase := base
	if inst, ok := analysedInstance(snap, base, size); ok {
		selfBase = inst.Base
	}

	refs, err := a.scanner.Scan(snap, from, from+region.Size, step, selfBase, region.Data)
	if err != nil {
		return result, err
	}
	result.Refs = refs
	result.APIConstants = a.pointerScan(snap, from, step, selfBase, region.Data)

	a.logger.Infow("external references analysed",
		"from", hexAddr(from), "to", hexAddr(to), "refs", len(result.Refs), "constants", len(result.APIConstants))
	return result, nil
}

func analysedInstance(snap *modules.Snapshot, base, size uint64) (modules.Instance, bool) {
	if _, inst, ok := snap.Owner(base); ok {
		return inst, true
	}
	if size == 0 {
		return modules.Instance{}, false
	}
	for _, rec := range snap.Records() {
		for _, inst := range rec.Instances {
			if base < inst.Base+inst.Size && inst.Base < base+size {
				return inst, true
			}
		}
	}
	return modules.Instance{}, false
}

// pointerScan slides a pointer-sized window over mem by step bytes. Each
// export address is reported once, at its first occurrence.
func (a *Analyzer) pointerScan(snap *modules.Snapshot, from, step, selfBase uint64, mem []byte) []APIConstant {
	self := ""
	if rec, _, ok := snap.Owner(selfBase); ok {
		self = rec.Name
	}

	width := uint64(a.config.PointerSize)
	n := uint64(len(mem))
	used := make(map[uint64]bool)
	var constants []APIConstant
	for off := uint64(0); off < n && n-off >= width; off += step {
		var value uint64
		if width == 8 {
			value = binary.LittleEndian.Uint64(mem[off:])
		} else {
			value = uint64(binary.LittleEndian.Uint32(mem[off:]))
		}

		if sym, ok := snap.Resolve(value); ok && !used[value] && sym.Module != self {
			used[value] = true
			constants = append(constants, APIConstant{
				Addr:   from + off,
				Value:  value,
				Module: sym.Module,
				Proc:   sym.Name,
			})
		}

		if step > n-off {
			break
		}
	}
	return constants
}

// GetMemoryMap lists the committed regions of the target. Regions inside
// a module image carry the module name in quotes.
func (a *Analyzer) GetMemoryMap() ([]proc.MemoryRegion, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	regions, err := a.target.MemoryMap()
	if err != nil {
		return nil, fmt.Errorf("memory map: %w", err)
	}

	mods, err := a.target.Modules()
	if err != nil {
		a.logger.Warnw("could not enumerate modules, memory map has no owners", "err", err)
		mods = nil
	}

	for i := range regions {
		regions[i].Owner = ""
		for _, m := range mods {
			if m.Contains(regions[i].Base) {
				name := modules.CanonicalName(m.Path)
				if name == "" {
					name = modules.CanonicalName(m.Name)
				}
				regions[i].Owner = "'" + name + "'"
				break
			}
		}
	}
	return regions, nil
}

// ReadMemoryRegions reads every requested region through the guarded
// reader. Unreadable parts of a region are zero-filled.
func (a *Analyzer) ReadMemoryRegions(reqs []RegionRequest) ([]MemoryChunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, req := range reqs {
		if err := checkSize(req.Addr, req.Size); err != nil {
			return nil, err
		}
	}

	chunks := make([]MemoryChunk, 0, len(reqs))
	for _, req := range reqs {
		region := a.reader.Read(req.Addr, req.Size)
		if region.Unreadable > 0 {
			a.logger.Debugw("region partially unreadable",
				"addr", hexAddr(req.Addr), "size", hexAddr(req.Size), "granules", region.Unreadable)
		}
		chunks = append(chunks, MemoryChunk{
			Addr:       region.Addr,
			Size:       region.Size,
			Data:       region.Data,
			Protection: region.Protection,
		})
	}
	return chunks, nil
}

// CheckPEHeaders parses the image mapped at [base, base+size).
func (a *Analyzer) CheckPEHeaders(base, size uint64) (PEHeaders, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := checkSize(base, size); err != nil {
		return PEHeaders{}, err
	}

	region := a.reader.Read(base, size)
	img := pe.NewImage(base, region.Data)
	if err := img.Parse(); err != nil {
		a.logger.Infow("not a PE image", "addr", hexAddr(base), "size", hexAddr(size), "err", err)
		return PEHeaders{}, nil
	}
	return PEHeaders{
		Valid:    true,
		Exports:  img.Exports(),
		Sections: img.Sections(),
	}, nil
}

// Symbols returns the qualified export names starting with prefix.
func (a *Analyzer) Symbols(prefix string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap, err := a.index.Refresh()
	if err != nil {
		return nil, err
	}
	return snap.Search(prefix), nil
}

// checkSize rejects ranges the guarded reader would truncate.
func checkSize(addr, size uint64) error {
	if size > guarded.MaxReadSize || addr+size < addr {
		return fmt.Errorf("%w: region %#x+%#x", e.ErrInvalidArgument, addr, size)
	}
	return nil
}

func hexAddr(v uint64) string {
	return fmt.Sprintf("%#x", v)
}
