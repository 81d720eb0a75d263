package modules

import (
	"sort"

	"github.com/derekparker/trie"

	"apiscope/pkg/pe"
)

// Instance is one mapping of a module. A module may be mapped more than
// once (WOW64, side-by-side copies).
type Instance struct {
	Path    string
	Base    uint64
	Size    uint64
	Exports []pe.Export
}

func (i Instance) Contains(addr uint64) bool {
	return addr >= i.Base && addr-i.Base < i.Size
}

func (i Instance) overlaps(base, size uint64) bool {
	return base < i.Base+i.Size && i.Base < base+size
}

type Record struct {
	Name      string
	Instances []Instance
}

// Symbol is an export resolved to the module that defines it.
type Symbol struct {
	Module  string
	Name    string
	Ordinal uint32
	Address uint64
}

// String returns the qualified "module.symbol" name.
func (s Symbol) String() string {
	return s.Module + "." + s.Name
}

// Snapshot is an immutable view of the modules of a process and the
// exports they define. A new one is built by every Index.Refresh.
type Snapshot struct {
	records map[string]*Record
	symbols map[uint64]Symbol
	names   *trie.Trie
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		records: make(map[string]*Record),
		symbols: make(map[uint64]Symbol),
		names:   trie.New(),
	}
}

func (s *Snapshot) add(name string, inst Instance) {
	rec, ok := s.records[name]
	if !ok {
		rec = &Record{Name: name}
		s.records[name] = rec
	}
	rec.Instances = append(rec.Instances, inst)

	for _, x := range inst.Exports {
		if x.Forwarded() || x.Address == 0 {
			continue
		}
		sym := Symbol{Module: name, Name: x.Symbol(), Ordinal: x.Ordinal, Address: x.Address}
		if _, dup := s.symbols[x.Address]; !dup {
			s.symbols[x.Address] = sym
		}
		s.names.Add(sym.String(), sym)
	}
}

// Resolve returns the export located exactly at addr.
func (s *Snapshot) Resolve(addr uint64) (Symbol, bool) {
	sym, ok := s.symbols[addr]
	return sym, ok
}

// Lookup finds an export by its qualified name.
func (s *Snapshot) Lookup(qualified string) (Symbol, bool) {
	node, found := s.names.Find(qualified)
	if !found {
		return Symbol{}, false
	}
	sym, ok := node.Meta().(Symbol)
	return sym, ok
}

// Search returns the sorted qualified names starting with prefix.
func (s *Snapshot) Search(prefix string) []string {
	names := s.names.PrefixSearch(prefix)
	sort.Strings(names)
	return names
}

func (s *Snapshot) Record(name string) (*Record, bool) {
	rec, ok := s.records[name]
	return rec, ok
}

// Records returns all modules ordered by name.
func (s *Snapshot) Records() []*Record {
	recs := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs
}

// Owner returns the module instance whose image contains addr.
func (s *Snapshot) Owner(addr uint64) (*Record, Instance, bool) {
	for _, rec := range s.records {
		for _, inst := range rec.Instances {
			if inst.Contains(addr) {
				return rec, inst, true
			}
		}
	}
	return nil, Instance{}, false
}

// Len is the number of resolvable export addresses.
func (s *Snapshot) Len() int {
	return len(s.symbols)
}
