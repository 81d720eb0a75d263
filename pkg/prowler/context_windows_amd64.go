package prowler

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"apiscope/pkg/proc"
)

var procGetThreadContext = modkernel32.NewProc("GetThreadContext")

const (
	contextAMD64   = 0x00100000
	contextControl = contextAMD64 | 0x1
	contextInteger = contextAMD64 | 0x2
)

type m128a struct {
	Low  uint64
	High int64
}

// amd64Context mirrors the x64 CONTEXT record. The kernel wants it 16
// byte aligned.
type amd64Context struct {
	P1Home               uint64
	P2Home               uint64
	P3Home               uint64
	P4Home               uint64
	P5Home               uint64
	P6Home               uint64
	ContextFlags         uint32
	MxCsr                uint32
	SegCs                uint16
	SegDs                uint16
	SegEs                uint16
	SegFs                uint16
	SegGs                uint16
	SegSs                uint16
	EFlags               uint32
	Dr0                  uint64
	Dr1                  uint64
	Dr2                  uint64
	Dr3                  uint64
	Dr6                  uint64
	Dr7                  uint64
	Rax                  uint64
	Rcx                  uint64
	Rdx                  uint64
	Rbx                  uint64
	Rsp                  uint64
	Rbp                  uint64
	Rsi                  uint64
	Rdi                  uint64
	R8                   uint64
	R9                   uint64
	R10                  uint64
	R11                  uint64
	R12                  uint64
	R13                  uint64
	R14                  uint64
	R15                  uint64
	Rip                  uint64
	FltSave              [512]byte
	VectorRegister       [26]m128a
	VectorControl        uint64
	DebugControl         uint64
	LastBranchToRip      uint64
	LastBranchFromRip    uint64
	LastExceptionToRip   uint64
	LastExceptionFromRip uint64
}

func nativeContext(thread windows.Handle) (proc.Registers, error) {
	buf := make([]byte, unsafe.Sizeof(amd64Context{})+15)
	off := (16 - uintptr(unsafe.Pointer(&buf[0]))%16) % 16
	ctx := (*amd64Context)(unsafe.Pointer(&buf[off]))
	ctx.ContextFlags = contextControl | contextInteger

	r, _, err := procGetThreadContext.Call(uintptr(thread), uintptr(unsafe.Pointer(ctx)))
	if r == 0 {
		return proc.Registers{}, fmt.Errorf("GetThreadContext failed: %w", err)
	}

	return proc.Registers{
		Eax: ctx.Rax, Ecx: ctx.Rcx, Edx: ctx.Rdx, Ebx: ctx.Rbx,
		Esp: ctx.Rsp, Ebp: ctx.Rbp, Esi: ctx.Rsi, Edi: ctx.Rdi,
		Eip: ctx.Rip,
	}, nil
}
