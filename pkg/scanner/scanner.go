// Package scanner finds instructions whose constant operands point at
// exports of other modules.
package scanner

import (
	"fmt"

	e "apiscope/error"
	"apiscope/pkg/disasm"
	"apiscope/pkg/logflags"
	"apiscope/pkg/modules"
)

type RefKind uint8

const (
	RefImmediate RefKind = iota
	RefAddress
	RefBranch
)

func (k RefKind) String() string {
	switch k {
	case RefImmediate:
		return "immconst"
	case RefAddress:
		return "adrconst"
	case RefBranch:
		return "jmpconst"
	}
	return fmt.Sprintf("RefKind(%d)", uint8(k))
}

// Hit is an instruction referencing an export of another module.
type Hit struct {
	Kind   RefKind
	Addr   uint64
	Len    int
	Value  uint64
	Module string
	Proc   string
	Dis    string
	Bin    []byte
}

func (h Hit) String() string {
	return fmt.Sprintf("%#x %s %s.%s (%s)", h.Addr, h.Kind, h.Module, h.Proc, h.Dis)
}

type Scanner struct {
	decoder disasm.Decoder
	logger  logflags.Logger
}

func New(decoder disasm.Decoder, logger logflags.Logger) *Scanner {
	if logger == nil {
		logger = logflags.Nop()
	}
	return &Scanner{decoder: decoder, logger: logger}
}

// Scan decodes an instruction at every step bytes of [from, to). mem holds
// the bytes of that range, mem[0] being the byte at from. Matches against
// exports of the module containing base are dropped.
func (s *Scanner) Scan(snap *modules.Snapshot, from, to, step, base uint64, mem []byte) ([]Hit, error) {
	if from > to || step == 0 {
		return nil, fmt.Errorf("%w: scan [%#x, %#x) step %d", e.ErrInvalidArgument, from, to, step)
	}

	self := ""
	if rec, _, ok := snap.Owner(base); ok {
		self = rec.Name
	}

	var hits []Hit
	for ea := from; ea < to; ea += step {
		off := ea - from
		if off >= uint64(len(mem)) {
			break
		}

		hit, ok, err := s.scanOne(snap, self, ea, window(mem[off:], to-ea))
		if err != nil {
			s.logger.Debugw("skipped address", "addr", fmt.Sprintf("%#x", ea), "err", err)
		} else if ok {
			hits = append(hits, hit)
		}

		if ea+step < ea {
			break
		}
	}

	s.logger.Debugw("scan finished", "from", fmt.Sprintf("%#x", from), "to", fmt.Sprintf("%#x", to), "hits", len(hits))
	return hits, nil
}

func window(code []byte, remain uint64) []byte {
	n := uint64(disasm.MaxInstLen)
	if remain < n {
		n = remain
	}
	if uint64(len(code)) < n {
		n = uint64(len(code))
	}
	return code[:n]
}

// scanOne classifies the instruction at ea. A panic while decoding is
// turned into a DecodeError for that address.
func (s *Scanner) scanOne(snap *modules.Snapshot, self string, ea uint64, code []byte) (hit Hit, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warnw("recovered while scanning", "addr", fmt.Sprintf("%#x", ea), "err", r)
			hit, ok = Hit{}, false
			err = &disasm.DecodeError{Addr: ea, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	inst, err := s.decoder.Decode(code, ea)
	if err != nil {
		return Hit{}, false, err
	}

	// A present operand that names no foreign export falls through to
	// the next kind.
	for _, c := range []struct {
		kind  RefKind
		value uint64
	}{
		{RefImmediate, inst.Imm},
		{RefAddress, inst.Adr},
		{RefBranch, inst.Jmp},
	} {
		if c.value == 0 {
			continue
		}
		sym, found := snap.Resolve(c.value)
		if !found || sym.Module == self {
			continue
		}
		return Hit{
			Kind:   c.kind,
			Addr:   ea,
			Len:    inst.Len,
			Value:  c.value,
			Module: sym.Module,
			Proc:   sym.Name,
			Dis:    inst.Dis,
			Bin:    inst.Bin,
		}, true, nil
	}
	return Hit{}, false, nil
}
