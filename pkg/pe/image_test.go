package pe

import (
	"errors"
	"testing"

	e "apiscope/error"
	"apiscope/pkg/pe/petest"
)

func kernel32() []byte {
	return petest.Build(petest.Config{
		DLLName:     "KERNEL32.dll",
		OrdinalBase: 1,
		Exports: []petest.Export{
			{Name: "CreateFileA", RVA: 0x1010},
			{RVA: 0x1020},
			{},
			{Name: "HeapAlloc", Forward: "NTDLL.RtlAllocateHeap"},
			{Name: "WriteFile", RVA: 0x1030},
		},
	})
}

func TestParseExports(t *testing.T) {
	img := NewImage(0x77000000, kernel32())
	if err := img.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !img.Valid() {
		t.Fatal("image should be valid")
	}
	if img.DLLName() != "KERNEL32.dll" {
		t.Fatalf("DLLName() = %q", img.DLLName())
	}

	want := []Export{
		{Address: 0x77001010, Ordinal: 1, Name: "CreateFileA"},
		{Address: 0x77001020, Ordinal: 2},
		{Ordinal: 4, Name: "HeapAlloc", Forwarder: "NTDLL.RtlAllocateHeap"},
		{Address: 0x77001030, Ordinal: 5, Name: "WriteFile"},
	}
	got := img.Exports()
	if len(got) != len(want) {
		t.Fatalf("got %d exports, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("export %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestExportSymbol(t *testing.T) {
	tests := []struct {
		name string
		x    Export
		want string
	}{
		{name: "named", x: Export{Name: "CreateFileA", Ordinal: 1}, want: "CreateFileA"},
		{name: "ordinal only", x: Export{Ordinal: 17}, want: "#17"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.x.Symbol(); got != tt.want {
				t.Errorf("Symbol() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSections(t *testing.T) {
	img := NewImage(0x10000000, kernel32())
	if err := img.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []Section{
		{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x1000, RawOffset: 0x400, RawSize: 0x1000, Characteristics: 0x60000020},
		{Name: ".edata", VirtualAddress: 0x2000, VirtualSize: 0x1000, RawOffset: 0x1400, RawSize: 0x1000, Characteristics: 0x40000040},
	}
	got := img.Sections()
	if len(got) != len(want) {
		t.Fatalf("got %d sections, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("section %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParsePE32Plus(t *testing.T) {
	data := petest.Build(petest.Config{
		DLLName:  "ntdll.dll",
		PE32Plus: true,
		Exports:  []petest.Export{{Name: "NtClose", RVA: 0x1100}},
	})

	img := NewImage(0x7ffe00000000, data)
	if err := img.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !img.Is64() {
		t.Fatal("Is64() = false for a PE32+ image")
	}
	exports := img.Exports()
	if len(exports) != 1 || exports[0].Address != 0x7ffe00001100 {
		t.Fatalf("unexpected exports %+v", exports)
	}
}

func TestParseInvalidHeaders(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func([]byte) []byte
	}{
		{name: "dos signature", corrupt: func(b []byte) []byte { b[0] = 'X'; return b }},
		{name: "nt signature", corrupt: func(b []byte) []byte { b[0x81] = 'X'; return b }},
		{name: "optional header magic", corrupt: func(b []byte) []byte { b[0x98] = 0x07; return b }},
		{name: "e_lfanew out of bounds", corrupt: func(b []byte) []byte { b[0x3c], b[0x3d] = 0xff, 0xff; return b[:0x1000] }},
		{name: "truncated", corrupt: func(b []byte) []byte { return b[:0x20] }},
		{name: "empty", corrupt: func(b []byte) []byte { return nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := NewImage(0x10000000, tt.corrupt(kernel32()))
			err := img.Parse()
			if !errors.Is(err, e.ErrInvalidImage) {
				t.Fatalf("Parse() error = %v, want ErrInvalidImage", err)
			}
			if img.Valid() || img.Exports() != nil || img.Sections() != nil {
				t.Fatal("invalid image surfaced data")
			}
		})
	}
}

func TestReparseAfterCorruption(t *testing.T) {
	data := kernel32()
	img := NewImage(0x10000000, data)
	if err := img.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	data[0] = 0
	if err := img.Parse(); err == nil {
		t.Fatal("Parse() accepted a corrupted image")
	}
	if len(img.Exports()) != 0 || len(img.Sections()) != 0 {
		t.Fatal("stale exports survived a failed parse")
	}
}

func TestExportTablesClippedToImage(t *testing.T) {
	data := kernel32()
	// NumberOfFunctions far beyond the end of the image.
	data[petest.EdataRVA+20] = 0xff
	data[petest.EdataRVA+21] = 0xff
	data[petest.EdataRVA+22] = 0xff

	img := NewImage(0x10000000, data)
	if err := img.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	limit := (petest.ImageSize - petest.EdataRVA - 40) / 4
	if n := len(img.Exports()); n > limit {
		t.Fatalf("got %d exports from a table that can hold at most %d", n, limit)
	}
}

func TestNameTablesClippedToImage(t *testing.T) {
	data := kernel32()
	// NumberOfNames = 0xffffffff.
	for i := 24; i < 28; i++ {
		data[petest.EdataRVA+i] = 0xff
	}

	img := NewImage(0x10000000, data)
	if err := img.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := img.Exports()
	want := Export{Address: 0x10001010, Ordinal: 1, Name: "CreateFileA"}
	if len(got) == 0 || got[0] != want {
		t.Fatalf("first export = %+v, want %+v", got, want)
	}
}
