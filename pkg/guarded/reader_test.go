package guarded

import (
	"bytes"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"apiscope/pkg/proc"
	"apiscope/pkg/proc/proctest"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i%251) ^ seed
	}
	return b
}

func newReader(p *proctest.Process) (*Reader, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewReader(p, zap.New(core).Sugar()), logs
}

func equalProtections(t *testing.T, before, after map[uint64]proc.Protection) {
	t.Helper()
	for addr, want := range before {
		if got := after[addr]; got != want {
			t.Errorf("protection of %#x = %s, want %s", addr, got, want)
		}
	}
}

func TestReadWithoutGuardPages(t *testing.T) {
	p := proctest.New()
	data := pattern(0x3000, 0x5a)
	p.Map(0x10000, data, proc.PageReadWrite)
	before := p.Protections()

	r, _ := newReader(p)
	region := r.Read(0x10000, 0x3000)

	if !bytes.Equal(region.Data, data) {
		t.Fatal("data mismatch")
	}
	if len(region.GuardRuns) != 0 {
		t.Fatalf("got %d guard runs, want 0", len(region.GuardRuns))
	}
	if p.SetCalls != 0 {
		t.Fatalf("SetProtection called %d times for an unguarded range", p.SetCalls)
	}
	if region.Protection != proc.PageReadWrite {
		t.Fatalf("leading protection = %s, want rw-", region.Protection)
	}
	equalProtections(t, before, p.Protections())
}

func TestReadStraddlingGuardPage(t *testing.T) {
	p := proctest.New()
	data := pattern(0x3000, 0x11)
	p.Map(0x1000, data, proc.PageReadWrite)
	p.Protect(0x2000, proc.PageReadWrite|proc.PageGuard)
	before := p.Protections()

	r, _ := newReader(p)
	region := r.Read(0x1800, 0x1000)

	if len(region.Data) != 0x1000 {
		t.Fatalf("read %#x bytes, want 0x1000", len(region.Data))
	}
	if !bytes.Equal(region.Data, data[0x800:0x1800]) {
		t.Fatal("data mismatch")
	}
	if len(region.GuardRuns) != 1 {
		t.Fatalf("got %d guard runs, want 1", len(region.GuardRuns))
	}
	run := region.GuardRuns[0]
	if run.Start != 0x2000 || run.Size != 0x1000 || !run.Unguarded {
		t.Fatalf("unexpected guard run %s unguarded=%v", run, run.Unguarded)
	}
	if p.GuardFaults != 0 {
		t.Fatalf("read tripped %d guard pages", p.GuardFaults)
	}
	equalProtections(t, before, p.Protections())
}

func TestGuardRunsAreHandledWhole(t *testing.T) {
	guard := proc.PageReadWrite | proc.PageGuard

	tests := []struct {
		name      string
		guarded   []uint64
		base      uint64
		size      uint64
		wantStart uint64
		wantSize  uint64
	}{
		{name: "run extends before the range", guarded: []uint64{0x2000, 0x3000, 0x4000}, base: 0x4000, size: 0x2000, wantStart: 0x2000, wantSize: 0x3000},
		{name: "run extends past the range", guarded: []uint64{0x3000, 0x4000, 0x5000}, base: 0x2000, size: 0x2000, wantStart: 0x3000, wantSize: 0x3000},
		{name: "run inside the range", guarded: []uint64{0x3000, 0x4000}, base: 0x1000, size: 0x6000, wantStart: 0x3000, wantSize: 0x2000},
		{name: "unaligned base inside a run", guarded: []uint64{0x3000, 0x4000}, base: 0x4100, size: 0x100, wantStart: 0x3000, wantSize: 0x2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := proctest.New()
			data := pattern(0x8000, 0x33)
			p.Map(0x1000, data, proc.PageReadWrite)
			for _, a := range tt.guarded {
				p.Protect(a, guard)
			}
			before := p.Protections()

			r, _ := newReader(p)
			region := r.Read(tt.base, tt.size)

			if len(region.GuardRuns) != 1 {
				t.Fatalf("got %d guard runs, want 1", len(region.GuardRuns))
			}
			run := region.GuardRuns[0]
			if run.Start != tt.wantStart || run.Size != tt.wantSize {
				t.Fatalf("guard run = %s, want %#x+%#x", run, tt.wantStart, tt.wantSize)
			}
			if !bytes.Equal(region.Data, data[tt.base-0x1000:tt.base-0x1000+tt.size]) {
				t.Fatal("data mismatch")
			}
			if p.GuardFaults != 0 {
				t.Fatalf("read tripped %d guard pages", p.GuardFaults)
			}
			equalProtections(t, before, p.Protections())
		})
	}
}

func TestDistinctProtectionsSplitRuns(t *testing.T) {
	p := proctest.New()
	p.Map(0x1000, pattern(0x4000, 0), proc.PageReadWrite)
	p.Protect(0x2000, proc.PageReadWrite|proc.PageGuard)
	p.Protect(0x3000, proc.PageReadOnly|proc.PageGuard)
	before := p.Protections()

	r, _ := newReader(p)
	region := r.Read(0x1000, 0x4000)

	if len(region.GuardRuns) != 2 {
		t.Fatalf("got %d guard runs, want 2", len(region.GuardRuns))
	}
	if region.GuardRuns[0].Start != 0x2000 || region.GuardRuns[1].Start != 0x3000 {
		t.Fatalf("unexpected runs %v", region.GuardRuns)
	}
	equalProtections(t, before, p.Protections())
}

func TestUnreadableGranuleIsZeroFilled(t *testing.T) {
	p := proctest.New()
	data := pattern(0x3000, 0x77)
	p.Map(0x1000, data, proc.PageReadOnly)
	p.MarkUnreadable(0x2000)

	r, _ := newReader(p)
	region := r.Read(0x1000, 0x3000)

	if region.Unreadable != 1 {
		t.Fatalf("Unreadable = %d, want 1", region.Unreadable)
	}
	if !bytes.Equal(region.Data[:0x1000], data[:0x1000]) || !bytes.Equal(region.Data[0x2000:], data[0x2000:]) {
		t.Fatal("readable granules were not copied")
	}
	if !bytes.Equal(region.Data[0x1000:0x2000], make([]byte, 0x1000)) {
		t.Fatal("unreadable granule was not zero-filled")
	}
}

func TestUnmappedHole(t *testing.T) {
	p := proctest.New()
	p.Map(0x1000, pattern(0x1000, 1), proc.PageReadOnly)
	p.Map(0x3000, pattern(0x1000, 2), proc.PageReadOnly)

	r, _ := newReader(p)
	region := r.Read(0x1000, 0x3000)

	if len(region.Data) != 0x3000 || region.Unreadable != 1 {
		t.Fatalf("len = %#x unreadable = %d", len(region.Data), region.Unreadable)
	}
	if !bytes.Equal(region.Data[0x2000:], pattern(0x1000, 2)) {
		t.Fatal("granule after the hole was not read")
	}
}

func TestFailedUnguardLeavesPageGuarded(t *testing.T) {
	guard := proc.PageReadWrite | proc.PageGuard
	p := proctest.New()
	p.Map(0x1000, pattern(0x3000, 9), proc.PageReadWrite)
	p.Protect(0x2000, guard)
	p.FailSet[0x2000] = true
	before := p.Protections()

	r, logs := newReader(p)
	region := r.Read(0x1000, 0x3000)

	if p.GuardFaults != 0 {
		t.Fatal("a page that could not be unguarded was read")
	}
	if region.Unreadable != 1 {
		t.Fatalf("Unreadable = %d, want 1", region.Unreadable)
	}
	if region.GuardRuns[0].Unguarded {
		t.Fatal("run reported as unguarded")
	}
	if logs.FilterMessage("could not clear guard bit").Len() != 1 {
		t.Fatal("missing unguard failure diagnostic")
	}
	equalProtections(t, before, p.Protections())
}

func TestFailedRestoreIsReported(t *testing.T) {
	p := proctest.New()
	data := pattern(0x2000, 4)
	p.Map(0x1000, data, proc.PageReadWrite)
	p.Protect(0x2000, proc.PageReadWrite|proc.PageGuard)
	p.FailRestore[0x2000] = true

	r, logs := newReader(p)
	region := r.Read(0x1000, 0x2000)

	if !bytes.Equal(region.Data, data) {
		t.Fatal("data mismatch")
	}
	entries := logs.FilterMessage("could not restore page protection").All()
	if len(entries) != 1 {
		t.Fatalf("got %d restore diagnostics, want 1", len(entries))
	}
	if entries[0].ContextMap()["addr"] != "0x2000" {
		t.Fatalf("diagnostic fields = %v", entries[0].ContextMap())
	}
}

func TestProtectionQueryFailure(t *testing.T) {
	p := proctest.New()
	data := pattern(0x1000, 8)
	p.Map(0x1000, data, proc.PageReadOnly)
	p.FailQuery[0x1000] = true

	r, logs := newReader(p)
	region := r.Read(0x1000, 0x1000)

	if region.Protection != 0 {
		t.Fatalf("Protection = %s, want 0", region.Protection)
	}
	if !bytes.Equal(region.Data, data) {
		t.Fatal("read did not proceed after a failed query")
	}
	if logs.FilterMessage("protection query failed, reading without guard handling").Len() != 1 {
		t.Fatal("missing query failure diagnostic")
	}
}

func TestRestoreRunsWhenReadPanics(t *testing.T) {
	p := proctest.New()
	p.Map(0x1000, pattern(0x2000, 3), proc.PageReadWrite)
	p.Protect(0x1000, proc.PageReadWrite|proc.PageGuard)
	p.PanicOnRead[0x2000] = true
	before := p.Protections()

	r, _ := newReader(p)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the target to panic")
			}
		}()
		r.Read(0x1000, 0x2000)
	}()

	equalProtections(t, before, p.Protections())
}

func TestEmptyRead(t *testing.T) {
	p := proctest.New()
	p.Map(0x1000, pattern(0x1000, 0), proc.PageExecuteRead)

	r, _ := newReader(p)
	region := r.Read(0x1000, 0)

	if len(region.Data) != 0 || p.ReadCalls != 0 {
		t.Fatalf("len = %d, reads = %d", len(region.Data), p.ReadCalls)
	}
	if region.Protection != proc.PageExecuteRead {
		t.Fatalf("Protection = %s", region.Protection)
	}
}

func TestOversizedReadIsTruncated(t *testing.T) {
	p := proctest.New()
	data := pattern(0x3000, 0x11)
	p.Map(0x10000, data, proc.PageReadWrite)

	r, logs := newReader(p)
	r.maxSize = 0x4000
	region := r.Read(0x10000, ^uint64(0)-0x100)

	if region.Size != 0x4000 || len(region.Data) != 0x4000 {
		t.Fatalf("Size = %#x, len = %#x, want 0x4000", region.Size, len(region.Data))
	}
	if !bytes.Equal(region.Data[:0x3000], data) {
		t.Fatal("data mismatch")
	}
	if region.Unreadable != 1 {
		t.Fatalf("Unreadable = %d, want 1", region.Unreadable)
	}
	if logs.FilterMessage("read truncated").Len() != 1 {
		t.Fatal("missing truncation diagnostic")
	}
}

func TestReadAtEndOfAddressSpace(t *testing.T) {
	p := proctest.New()
	base := ^uint64(0) - 0xfff

	r, _ := newReader(p)
	region := r.Read(base, 0x2000)

	if region.Size != 0xfff || len(region.Data) != 0xfff {
		t.Fatalf("Size = %#x, len = %#x, want 0xfff", region.Size, len(region.Data))
	}
	if region.Unreadable != 1 {
		t.Fatalf("Unreadable = %d, want 1", region.Unreadable)
	}
}
