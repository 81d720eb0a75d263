// Package analysistest provides a small simulated 32-bit process with
// two modules, for tests of the layers above package analysis.
package analysistest

import (
	"testing"

	"apiscope/pkg/analysis"
	"apiscope/pkg/logflags"
	"apiscope/pkg/pe/petest"
	"apiscope/pkg/proc"
	"apiscope/pkg/proc/proctest"
)

const (
	AppBase      = 0x400000
	Kernel32Base = 0x10000000
	CodeAddr     = 0x401100

	CreateFileA = Kernel32Base + 0x1010
	HeapAlloc   = Kernel32Base + 0x1020
)

// Code is mapped at CodeAddr: push kernel32.CreateFileA; call
// kernel32.HeapAlloc.
var Code = []byte{
	0x68, 0x10, 0x10, 0x00, 0x10,
	0xe8, 0x16, 0x0f, 0xc0, 0x0f,
}

var Regs = proc.Registers{Eax: 0x11, Esp: 0x12ff00, Eip: CodeAddr}

func NewTarget() *proctest.Process {
	p := proctest.New()
	app := petest.Build(petest.Config{
		DLLName: "app.exe",
		Exports: []petest.Export{{Name: "Start", RVA: 0x1000}},
	})
	kernel32 := petest.Build(petest.Config{
		DLLName: "KERNEL32.dll",
		Exports: []petest.Export{
			{Name: "CreateFileA", RVA: 0x1010},
			{Name: "HeapAlloc", RVA: 0x1020},
		},
	})

	p.Map(AppBase, app, proc.PageExecuteRead)
	p.Map(Kernel32Base, kernel32, proc.PageExecuteRead)
	p.ModuleList = []proc.Module{
		{Path: `C:\app\app.exe`, Base: AppBase, Size: uint64(len(app))},
		{Path: `C:\Windows\SysWOW64\kernel32.dll`, Base: Kernel32Base, Size: uint64(len(kernel32))},
	}
	p.Write(CodeAddr, Code)
	p.Regs = Regs
	return p
}

func NewAnalyzer(t testing.TB, target proc.Process) *analysis.Analyzer {
	t.Helper()
	a, err := analysis.New(target, analysis.Config{Bits: 32}, analysis.Loggers{
		Analysis: logflags.Nop(),
		Memory:   logflags.Nop(),
		Index:    logflags.Nop(),
		Scan:     logflags.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}
