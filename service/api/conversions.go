package api

import (
	"apiscope/pkg/analysis"
	"apiscope/pkg/pe"
	"apiscope/pkg/proc"
	"apiscope/pkg/scanner"
)

func ConvertRegions(regions []proc.MemoryRegion) *MemoryMap {
	m := &MemoryMap{Regions: make([]MemoryRegion, 0, len(regions))}
	for _, r := range regions {
		m.Regions = append(m.Regions, MemoryRegion{
			Base:       r.Base,
			Size:       r.Size,
			Access:     r.Protection.String(),
			Protection: uint32(r.Protection),
			Owner:      r.Owner,
		})
	}
	return m
}

func ConvertRegionRequests(reqs []RegionRequest) []analysis.RegionRequest {
	out := make([]analysis.RegionRequest, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, analysis.RegionRequest{Addr: r.Addr, Size: r.Size})
	}
	return out
}

func ConvertChunks(chunks []analysis.MemoryChunk) *ReadResult {
	res := &ReadResult{Memories: make([]MemoryChunk, 0, len(chunks))}
	for _, c := range chunks {
		res.Memories = append(res.Memories, MemoryChunk{
			Addr:       c.Addr,
			Size:       c.Size,
			Mem:        c.Data,
			Protection: uint32(c.Protection),
		})
	}
	return res
}

func ConvertContext(r proc.Registers) CPUContext {
	return CPUContext{
		Eax: r.Eax, Ecx: r.Ecx, Edx: r.Edx, Ebx: r.Ebx,
		Esp: r.Esp, Ebp: r.Ebp, Esi: r.Esi, Edi: r.Edi,
		Eip: r.Eip,
	}
}

func ConvertRef(h scanner.Hit) Ref {
	return Ref{
		Kind:   h.Kind.String(),
		Addr:   h.Addr,
		Len:    h.Len,
		Value:  h.Value,
		Module: h.Module,
		Proc:   h.Proc,
		Dis:    h.Dis,
		Bin:    h.Bin,
	}
}

func ConvertResult(r *analysis.Result) *AnalyzeResult {
	res := &AnalyzeResult{
		APIConstants: []APIConstant{},
		Refs:         []Ref{},
	}
	if r == nil {
		return res
	}

	res.Context = ConvertContext(r.Context)
	for _, c := range r.APIConstants {
		res.APIConstants = append(res.APIConstants, APIConstant{
			Addr:   c.Addr,
			Value:  c.Value,
			Module: c.Module,
			Proc:   c.Proc,
		})
	}
	for _, h := range r.Refs {
		res.Refs = append(res.Refs, ConvertRef(h))
	}
	return res
}

func ConvertPEHeaders(h analysis.PEHeaders) *PEHeaders {
	res := &PEHeaders{
		Valid:    h.Valid,
		Exports:  []Export{},
		Sections: []Section{},
	}
	for _, x := range h.Exports {
		res.Exports = append(res.Exports, ConvertExport(x))
	}
	for _, s := range h.Sections {
		res.Sections = append(res.Sections, Section(s))
	}
	return res
}

func ConvertExport(x pe.Export) Export {
	return Export{
		Address:   x.Address,
		Ordinal:   x.Ordinal,
		Name:      x.Name,
		Forwarder: x.Forwarder,
	}
}
