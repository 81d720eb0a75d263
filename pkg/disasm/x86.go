package disasm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// X86 decodes x86 and x86-64 instructions.
type X86 struct {
	bits   int
	format func(inst x86asm.Inst, pc uint64) string
}

func NewX86(bits int, syntax Syntax) (*X86, error) {
	if bits != 32 && bits != 64 {
		return nil, fmt.Errorf("unsupported x86 mode: %d bits", bits)
	}

	var format func(inst x86asm.Inst, pc uint64) string
	switch syntax {
	case IntelSyntax, "":
		format = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.IntelSyntax(inst, pc, nil)
		}
	case ATTSyntax:
		format = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.GNUSyntax(inst, pc, nil)
		}
	case GoSyntax:
		format = func(inst x86asm.Inst, pc uint64) string {
			return x86asm.GoSyntax(inst, pc, nil)
		}
	default:
		return nil, fmt.Errorf("unsupported syntax type for x86: %q", syntax)
	}

	return &X86{bits: bits, format: format}, nil
}

func (d *X86) Bits() int {
	return d.bits
}

func (d *X86) Decode(code []byte, addr uint64) (Inst, error) {
	if len(code) > MaxInstLen {
		code = code[:MaxInstLen]
	}

	x86Inst, err := x86asm.Decode(code, d.bits)
	if err != nil {
		return Inst{}, &DecodeError{Addr: addr, Err: err}
	}

	inst := Inst{
		Addr: addr,
		Len:  x86Inst.Len,
		Bin:  append([]byte(nil), code[:x86Inst.Len]...),
		Dis:  d.format(x86Inst, addr),
	}

	next := addr + uint64(x86Inst.Len)
	for _, arg := range x86Inst.Args {
		if arg == nil {
			break
		}
		switch a := arg.(type) {
		case x86asm.Imm:
			if inst.Imm == 0 {
				inst.Imm = d.mask(uint64(a))
			}
		case x86asm.Mem:
			if inst.Adr != 0 {
				continue
			}
			switch {
			case a.Base == x86asm.RIP:
				inst.Adr = next + uint64(a.Disp)
			case a.Disp != 0:
				inst.Adr = d.mask(uint64(a.Disp))
			}
		case x86asm.Rel:
			if inst.Jmp == 0 {
				inst.Jmp = d.mask(next + uint64(int64(a)))
			}
		}
	}

	return inst, nil
}

func (d *X86) mask(v uint64) uint64 {
	if d.bits == 32 {
		return uint64(uint32(v))
	}
	return v
}
