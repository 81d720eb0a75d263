// Package api holds the messages exchanged between apiscope servers and
// clients. The same types travel over HTTP and gRPC, both JSON encoded.
package api

type Empty struct{}

type Pong struct {
	Server string `json:"server"`
	Pid    int    `json:"pid"`
	Bits   int    `json:"bits"`
}

type MemoryRegion struct {
	Base       uint64 `json:"base"`
	Size       uint64 `json:"size"`
	Access     string `json:"access"`
	Protection uint32 `json:"protection"`
	Owner      string `json:"owner"`
}

type MemoryMap struct {
	Regions []MemoryRegion `json:"regions"`
}

type RegionRequest struct {
	Addr uint64 `json:"addr"`
	Size uint64 `json:"size"`
}

type ReadRequest struct {
	Regions []RegionRequest `json:"regions"`
}

type MemoryChunk struct {
	Addr       uint64 `json:"addr"`
	Size       uint64 `json:"size"`
	Mem        []byte `json:"mem"`
	Protection uint32 `json:"protect"`
}

type ReadResult struct {
	Memories []MemoryChunk `json:"memories"`
}

type AnalyzeRequest struct {
	From uint64 `json:"ea_from"`
	To   uint64 `json:"ea_to"`
	Step uint64 `json:"increment"`
	Base uint64 `json:"analysing_base"`
	Size uint64 `json:"analysing_size"`
}

type CPUContext struct {
	Eax uint64 `json:"eax"`
	Ecx uint64 `json:"ecx"`
	Edx uint64 `json:"edx"`
	Ebx uint64 `json:"ebx"`
	Esp uint64 `json:"esp"`
	Ebp uint64 `json:"ebp"`
	Esi uint64 `json:"esi"`
	Edi uint64 `json:"edi"`
	Eip uint64 `json:"eip"`
}

type APIConstant struct {
	Addr   uint64 `json:"ea"`
	Value  uint64 `json:"value"`
	Module string `json:"module"`
	Proc   string `json:"proc"`
}

// Ref is an instruction referencing an export. Kind is one of
// "immconst", "adrconst" or "jmpconst".
type Ref struct {
	Kind   string `json:"kind"`
	Addr   uint64 `json:"ea"`
	Len    int    `json:"len"`
	Value  uint64 `json:"value"`
	Module string `json:"module"`
	Proc   string `json:"proc"`
	Dis    string `json:"dis"`
	Bin    []byte `json:"bin"`
}

type AnalyzeResult struct {
	Context      CPUContext    `json:"context"`
	APIConstants []APIConstant `json:"api_constants"`
	Refs         []Ref         `json:"refs"`
}

type PERequest struct {
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
}

type Export struct {
	Address   uint64 `json:"ea"`
	Ordinal   uint32 `json:"ord"`
	Name      string `json:"name,omitempty"`
	Forwarder string `json:"forwarder,omitempty"`
}

type Section struct {
	Name            string `json:"name"`
	VirtualAddress  uint32 `json:"va"`
	VirtualSize     uint32 `json:"v_size"`
	RawOffset       uint32 `json:"raw"`
	RawSize         uint32 `json:"raw_size"`
	Characteristics uint32 `json:"characteristics"`
}

type PEHeaders struct {
	Valid    bool      `json:"valid"`
	Exports  []Export  `json:"exports"`
	Sections []Section `json:"sections"`
}

type SymbolsRequest struct {
	Prefix string `json:"prefix"`
}

type SymbolsResult struct {
	Names []string `json:"names"`
}
