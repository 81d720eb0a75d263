package proc

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt. A short read returns
	// the number of bytes copied and a non-nil error.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// PageProtector queries and changes page protections of the target.
type PageProtector interface {
	QueryProtection(addr uint64) (Protection, error)
	SetProtection(addr, size uint64, prot Protection) error
}

// ModuleEnumerator lists the modules currently mapped into the target.
type ModuleEnumerator interface {
	Modules() ([]Module, error)
}

// MemoryMapper lists the committed memory regions of the target.
type MemoryMapper interface {
	MemoryMap() ([]MemoryRegion, error)
}

// RegisterReader returns the general purpose registers of the thread
// the debugger currently has selected.
type RegisterReader interface {
	Registers() (Registers, error)
}

// Process is everything the analysis core needs from a live target.
type Process interface {
	MemoryReader
	PageProtector
	ModuleEnumerator
	MemoryMapper
	RegisterReader
}

type Module struct {
	Name string
	Path string
	Base uint64
	Size uint64
}

// Contains reports whether addr lies inside the module image.
func (m Module) Contains(addr uint64) bool {
	return addr >= m.Base && addr-m.Base < m.Size
}

type MemoryRegion struct {
	Base       uint64
	Size       uint64
	Protection Protection
	Owner      string
}

type Registers struct {
	Eax, Ecx, Edx, Ebx uint64
	Esp, Ebp, Esi, Edi uint64
	Eip                uint64
}
