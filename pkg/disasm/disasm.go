// Package disasm decodes single instructions and classifies the constant
// operands the reference scanner is interested in.
package disasm

import "fmt"

// MaxInstLen is the number of bytes handed to a decoder per instruction.
const MaxInstLen = 16

type Syntax string

const (
	IntelSyntax Syntax = "intel"
	ATTSyntax   Syntax = "att"
	GoSyntax    Syntax = "go"
)

// Inst is one decoded instruction. A zero constant means the instruction
// has no operand of that kind.
type Inst struct {
	Addr uint64
	Len  int
	Bin  []byte
	Dis  string

	// Imm is the immediate operand.
	Imm uint64
	// Adr is the constant part of a memory operand, resolved to an
	// absolute address for RIP-relative operands.
	Adr uint64
	// Jmp is the destination of a relative jump or call.
	Jmp uint64
}

// Decoder decodes the instruction at the start of code, which was read
// from addr.
type Decoder interface {
	Decode(code []byte, addr uint64) (Inst, error)
}

// DecodeError reports an address where no instruction could be decoded.
type DecodeError struct {
	Addr uint64
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at %#x: %v", e.Addr, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
