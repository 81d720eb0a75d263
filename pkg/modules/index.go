// Package modules indexes the modules of a process and the addresses of
// their exports.
package modules

import (
	"fmt"
	"strings"

	"apiscope/pkg/guarded"
	"apiscope/pkg/logflags"
	"apiscope/pkg/pe"
	"apiscope/pkg/proc"
)

// ImageReader copies a module image out of the target.
type ImageReader interface {
	Read(base, size uint64) guarded.Region
}

type Index struct {
	modules proc.ModuleEnumerator
	reader  ImageReader
	logger  logflags.Logger
	snap    *Snapshot
}

func NewIndex(modules proc.ModuleEnumerator, reader ImageReader, logger logflags.Logger) *Index {
	if logger == nil {
		logger = logflags.Nop()
	}
	return &Index{
		modules: modules,
		reader:  reader,
		logger:  logger,
		snap:    newSnapshot(),
	}
}

// Snapshot returns the result of the last Refresh.
func (ix *Index) Snapshot() *Snapshot {
	return ix.snap
}

// Refresh rebuilds the index from scratch. Nothing from a previous
// snapshot is carried over.
func (ix *Index) Refresh() (*Snapshot, error) {
	mods, err := ix.modules.Modules()
	if err != nil {
		return nil, fmt.Errorf("enumerate modules: %w", err)
	}

	snap := newSnapshot()
	type key struct {
		name string
		base uint64
	}
	seen := make(map[key]bool, len(mods))

	for _, m := range mods {
		name := CanonicalName(m.Path)
		if name == "" {
			name = CanonicalName(m.Name)
		}
		if name == "" || seen[key{name, m.Base}] {
			continue
		}
		seen[key{name, m.Base}] = true

		if rec, ok := snap.records[name]; ok && overlapsAny(rec, m.Base, m.Size) {
			ix.logger.Warnw("module instance overlaps a known instance, skipped",
				"module", name, "base", fmt.Sprintf("%#x", m.Base), "size", fmt.Sprintf("%#x", m.Size))
			continue
		}

		snap.add(name, Instance{
			Path:    m.Path,
			Base:    m.Base,
			Size:    m.Size,
			Exports: ix.exports(name, m),
		})
	}

	ix.logger.Debugw("module index refreshed", "modules", len(snap.records), "exports", snap.Len())
	ix.snap = snap
	return snap, nil
}

func (ix *Index) exports(name string, m proc.Module) []pe.Export {
	if m.Size == 0 {
		return nil
	}

	region := ix.reader.Read(m.Base, m.Size)
	img := pe.NewImage(m.Base, region.Data)
	if err := img.Parse(); err != nil {
		ix.logger.Warnw("module image not parsed", "module", name, "base", fmt.Sprintf("%#x", m.Base), "err", err)
		return nil
	}

	ix.logger.Debugw("module parsed", "module", name, "base", fmt.Sprintf("%#x", m.Base), "exports", len(img.Exports()))
	return img.Exports()
}

func overlapsAny(rec *Record, base, size uint64) bool {
	for _, inst := range rec.Instances {
		if inst.overlaps(base, size) {
			return true
		}
	}
	return false
}

// CanonicalName turns a module path into the lowercase base name without
// extension: `C:\Windows\System32\KERNEL32.DLL` becomes "kernel32".
func CanonicalName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.LastIndexByte(path, '.'); i > 0 {
		path = path[:i]
	}
	return strings.ToLower(path)
}
