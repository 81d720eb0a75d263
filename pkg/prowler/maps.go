package prowler

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"apiscope/pkg/proc"
)

// mapping is one line of /proc/<pid>/maps.
type mapping struct {
	Start  uint64
	End    uint64
	Perms  string
	Offset uint64
	Device string
	Inode  uint64
	Path   string
}

func parseMaps(r io.Reader) ([]mapping, error) {
	var regions []mapping
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		start, end, ok := strings.Cut(fields[0], "-")
		if !ok {
			return nil, fmt.Errorf("malformed maps line %q", line)
		}
		m := mapping{
			Start:  parseHex(start),
			End:    parseHex(end),
			Perms:  fields[1],
			Offset: parseHex(fields[2]),
			Device: fields[3],
			Inode:  parseDec(fields[4]),
		}
		if len(fields) > 5 {
			m.Path = strings.Join(fields[5:], " ")
		}
		regions = append(regions, m)
	}
	return regions, sc.Err()
}

// mapsModules groups file backed mappings into modules. A module spans
// from its first mapping to the end of the last one with the same path.
func mapsModules(maps []mapping) []proc.Module {
	var mods []proc.Module
	index := make(map[string]int)
	for _, m := range maps {
		if !strings.HasPrefix(m.Path, "/") || m.Inode == 0 {
			continue
		}

		i, ok := index[m.Path]
		if !ok {
			index[m.Path] = len(mods)
			mods = append(mods, proc.Module{
				Name: filepath.Base(m.Path),
				Path: m.Path,
				Base: m.Start,
				Size: m.End - m.Start,
			})
			continue
		}
		if end := mods[i].Base + mods[i].Size; m.End > end {
			mods[i].Size = m.End - mods[i].Base
		}
	}
	return mods
}

func mapsRegions(maps []mapping) []proc.MemoryRegion {
	regions := make([]proc.MemoryRegion, 0, len(maps))
	for _, m := range maps {
		regions = append(regions, proc.MemoryRegion{
			Base:       m.Start,
			Size:       m.End - m.Start,
			Protection: proc.ParsePerms(m.Perms),
		})
	}
	return regions
}

func findMapping(maps []mapping, addr uint64) (mapping, bool) {
	for _, m := range maps {
		if addr >= m.Start && addr < m.End {
			return m, true
		}
	}
	return mapping{}, false
}

func parseHex(s string) uint64 {
	if s == "0" {
		return 0
	}
	val, _ := strconv.ParseUint(s, 16, 64)
	return val
}

func parseDec(s string) uint64 {
	val, _ := strconv.ParseUint(s, 10, 64)
	return val
}
