package scanner

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	e "apiscope/error"
	"apiscope/pkg/disasm"
	"apiscope/pkg/guarded"
	"apiscope/pkg/logflags"
	"apiscope/pkg/modules"
	"apiscope/pkg/pe/petest"
	"apiscope/pkg/proc"
	"apiscope/pkg/proc/proctest"
)

const (
	appBase      = 0x400000
	kernel32Base = 0x10000000

	appStart    = appBase + 0x1000      // app.Start
	createFileA = kernel32Base + 0x1010 // kernel32.CreateFileA
	heapAlloc   = kernel32Base + 0x1020 // kernel32.HeapAlloc
	exitProcess = kernel32Base + 0x1030 // kernel32.ExitProcess
)

func snapshot(t *testing.T) *modules.Snapshot {
	t.Helper()

	p := proctest.New()
	mods := []struct {
		path string
		base uint64
		img  []byte
	}{
		{`C:\app\app.exe`, appBase, petest.Build(petest.Config{
			DLLName: "app.exe",
			Exports: []petest.Export{{Name: "Start", RVA: 0x1000}},
		})},
		{`C:\Windows\System32\kernel32.dll`, kernel32Base, petest.Build(petest.Config{
			DLLName: "KERNEL32.dll",
			Exports: []petest.Export{
				{Name: "CreateFileA", RVA: 0x1010},
				{Name: "HeapAlloc", RVA: 0x1020},
				{Name: "ExitProcess", RVA: 0x1030},
			},
		})},
	}
	for _, m := range mods {
		p.Map(m.base, m.img, proc.PageExecuteRead)
		p.ModuleList = append(p.ModuleList, proc.Module{Path: m.path, Base: m.base, Size: uint64(len(m.img))})
	}

	snap, err := modules.NewIndex(p, guarded.NewReader(p, logflags.Nop()), logflags.Nop()).Refresh()
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

// fakeDecoder returns canned instructions keyed by address.
type fakeDecoder struct {
	insts  map[uint64]disasm.Inst
	panics map[uint64]bool
	calls  []uint64
	sizes  []int
}

func (d *fakeDecoder) Decode(code []byte, addr uint64) (disasm.Inst, error) {
	d.calls = append(d.calls, addr)
	d.sizes = append(d.sizes, len(code))
	if d.panics[addr] {
		panic("corrupt operand table")
	}
	inst, ok := d.insts[addr]
	if !ok {
		return disasm.Inst{}, &disasm.DecodeError{Addr: addr, Err: errors.New("bad opcode")}
	}
	inst.Addr = addr
	if inst.Len == 0 {
		inst.Len = 1
	}
	return inst, nil
}

func TestScanOperandPriority(t *testing.T) {
	snap := snapshot(t)
	d := &fakeDecoder{insts: map[uint64]disasm.Inst{
		0x401000: {Imm: createFileA, Adr: heapAlloc, Jmp: exitProcess, Dis: "all three"},
		0x401001: {Imm: 0x1234, Adr: heapAlloc, Jmp: exitProcess, Dis: "imm unresolved"},
		0x401002: {Jmp: exitProcess, Dis: "call"},
		0x401003: {Imm: 0x1234, Dis: "no export"},
	}}

	hits, err := New(d, nil).Scan(snap, 0x401000, 0x401004, 1, appBase, make([]byte, 4))
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		addr  uint64
		kind  RefKind
		value uint64
		sym   string
	}{
		{0x401000, RefImmediate, createFileA, "CreateFileA"},
		{0x401001, RefAddress, heapAlloc, "HeapAlloc"},
		{0x401002, RefBranch, exitProcess, "ExitProcess"},
	}
	if len(hits) != len(want) {
		t.Fatalf("got %d hits, want %d: %v", len(hits), len(want), hits)
	}
	for i, w := range want {
		h := hits[i]
		if h.Addr != w.addr || h.Kind != w.kind || h.Value != w.value || h.Module != "kernel32" || h.Proc != w.sym {
			t.Errorf("hit %d = %+v, want %+v", i, h, w)
		}
	}
}

func TestScanSelfExclusion(t *testing.T) {
	snap := snapshot(t)
	d := &fakeDecoder{insts: map[uint64]disasm.Inst{
		0x401000: {Imm: appStart},
		0x401004: {Imm: appStart, Jmp: createFileA},
	}}

	hits, err := New(d, nil).Scan(snap, 0x401000, 0x401008, 4, appBase+0x10, make([]byte, 8))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1: %v", len(hits), hits)
	}
	if hits[0].Addr != 0x401004 || hits[0].Kind != RefBranch || hits[0].Value != createFileA {
		t.Fatalf("unexpected hit %+v", hits[0])
	}

	// scanning from outside the app module reports its exports
	hits, err = New(d, nil).Scan(snap, 0x401000, 0x401008, 4, 0x7000000, make([]byte, 8))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Module != "app" || hits[0].Proc != "Start" {
		t.Fatalf("unexpected hits %v", hits)
	}
}

func TestScanSkipsFailures(t *testing.T) {
	snap := snapshot(t)
	core, logs := observer.New(zapcore.DebugLevel)
	d := &fakeDecoder{
		insts: map[uint64]disasm.Inst{
			0x401003: {Imm: createFileA},
			0x401004: {Imm: heapAlloc},
		},
		panics: map[uint64]bool{0x401001: true},
	}

	hits, err := New(d, zap.New(core).Sugar()).Scan(snap, 0x401000, 0x401005, 1, appBase, make([]byte, 5))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Addr != 0x401003 || hits[1].Addr != 0x401004 {
		t.Fatalf("unexpected hits %v", hits)
	}
	if len(d.calls) != 5 {
		t.Fatalf("decoder called %d times, want 5", len(d.calls))
	}

	recovered := logs.FilterMessage("recovered while scanning").All()
	if len(recovered) != 1 {
		t.Fatalf("got %d recovery logs, want 1", len(recovered))
	}
	if got := recovered[0].ContextMap()["addr"]; got != "0x401001" {
		t.Fatalf("recovery logged addr %v", got)
	}
	if n := logs.FilterMessage("skipped address").Len(); n != 3 {
		t.Fatalf("got %d skipped logs, want 3", n)
	}
}

func TestScanWindow(t *testing.T) {
	snap := snapshot(t)
	d := &fakeDecoder{}

	if _, err := New(d, nil).Scan(snap, 0x401000, 0x401020, 8, appBase, make([]byte, 0x20)); err != nil {
		t.Fatal(err)
	}
	want := []int{16, 16, 16, 8}
	if len(d.sizes) != len(want) {
		t.Fatalf("decode windows = %v, want %v", d.sizes, want)
	}
	for i := range want {
		if d.sizes[i] != want[i] {
			t.Fatalf("decode windows = %v, want %v", d.sizes, want)
		}
	}

	// fewer bytes than the range ends the scan early
	d = &fakeDecoder{}
	if _, err := New(d, nil).Scan(snap, 0x401000, 0x401020, 1, appBase, make([]byte, 3)); err != nil {
		t.Fatal(err)
	}
	if len(d.calls) != 3 || d.sizes[2] != 1 {
		t.Fatalf("calls = %v, sizes = %v", d.calls, d.sizes)
	}
}

func TestScanInvalidArguments(t *testing.T) {
	snap := snapshot(t)
	tests := []struct {
		name           string
		from, to, step uint64
	}{
		{"reversed range", 0x401010, 0x401000, 1},
		{"zero step", 0x401000, 0x401010, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDecoder{}
			hits, err := New(d, nil).Scan(snap, tt.from, tt.to, tt.step, appBase, make([]byte, 0x10))
			if !errors.Is(err, e.ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
			if len(hits) != 0 || len(d.calls) != 0 {
				t.Fatalf("hits = %v, decode calls = %d", hits, len(d.calls))
			}
		})
	}
}

func TestScanEmptyRange(t *testing.T) {
	d := &fakeDecoder{}
	hits, err := New(d, nil).Scan(snapshot(t), 0x401000, 0x401000, 1, appBase, nil)
	if err != nil || len(hits) != 0 || len(d.calls) != 0 {
		t.Fatalf("hits = %v, err = %v, calls = %d", hits, err, len(d.calls))
	}
}

func TestRefKindString(t *testing.T) {
	for k, want := range map[RefKind]string{
		RefImmediate: "immconst",
		RefAddress:   "adrconst",
		RefBranch:    "jmpconst",
		RefKind(9):   "RefKind(9)",
	} {
		if got := k.String(); got != want {
			t.Errorf("RefKind(%d).String() = %q, want %q", uint8(k), got, want)
		}
	}
}
