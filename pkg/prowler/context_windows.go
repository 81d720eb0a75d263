package prowler

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"apiscope/pkg/proc"
)

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procWow64GetThreadContext = modkernel32.NewProc("Wow64GetThreadContext")
)

const (
	wow64ContextI386    = 0x00010000
	wow64ContextControl = wow64ContextI386 | 0x1
	wow64ContextInteger = wow64ContextI386 | 0x2
)

type wow64FloatingSaveArea struct {
	ControlWord   uint32
	StatusWord    uint32
	TagWord       uint32
	ErrorOffset   uint32
	ErrorSelector uint32
	DataOffset    uint32
	DataSelector  uint32
	RegisterArea  [80]byte
	Cr0NpxState   uint32
}

// wow64ContextRecord mirrors WOW64_CONTEXT.
type wow64ContextRecord struct {
	ContextFlags      uint32
	Dr0               uint32
	Dr1               uint32
	Dr2               uint32
	Dr3               uint32
	Dr6               uint32
	Dr7               uint32
	FloatSave         wow64FloatingSaveArea
	SegGs             uint32
	SegFs             uint32
	SegEs             uint32
	SegDs             uint32
	Edi               uint32
	Esi               uint32
	Ebx               uint32
	Edx               uint32
	Ecx               uint32
	Eax               uint32
	Ebp               uint32
	Eip               uint32
	SegCs             uint32
	EFlags            uint32
	Esp               uint32
	SegSs             uint32
	ExtendedRegisters [512]byte
}

func wow64Context(thread windows.Handle) (proc.Registers, error) {
	if err := procWow64GetThreadContext.Find(); err != nil {
		return proc.Registers{}, err
	}

	var ctx wow64ContextRecord
	ctx.ContextFlags = wow64ContextControl | wow64ContextInteger
	r, _, err := procWow64GetThreadContext.Call(uintptr(thread), uintptr(unsafe.Pointer(&ctx)))
	if r == 0 {
		return proc.Registers{}, fmt.Errorf("Wow64GetThreadContext failed: %w", err)
	}

	return proc.Registers{
		Eax: uint64(ctx.Eax), Ecx: uint64(ctx.Ecx), Edx: uint64(ctx.Edx), Ebx: uint64(ctx.Ebx),
		Esp: uint64(ctx.Esp), Ebp: uint64(ctx.Ebp), Esi: uint64(ctx.Esi), Edi: uint64(ctx.Edi),
		Eip: uint64(ctx.Eip),
	}, nil
}
