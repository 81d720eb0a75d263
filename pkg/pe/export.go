package pe

import (
	"encoding/binary"
	"strconv"
)

const maxNameLen = 512

// Export is one exported symbol. Address is absolute, computed from the
// base the image was loaded at. Forwarded exports have a zero Address
// and carry the forwarder string instead.
type Export struct {
	Address   uint64
	Ordinal   uint32
	Name      string
	Forwarder string
}

// Symbol is the export name, or "#<ordinal>" for ordinal-only exports.
func (x Export) Symbol() string {
	if x.Name != "" {
		return x.Name
	}
	return "#" + strconv.FormatUint(uint64(x.Ordinal), 10)
}

func (x Export) Forwarded() bool {
	return x.Forwarder != ""
}

func (img *Image) u16(rva uint64) (uint16, bool) {
	if rva+2 > uint64(len(img.data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(img.data[rva:]), true
}

func (img *Image) u32(rva uint64) (uint32, bool) {
	if rva+4 > uint64(len(img.data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(img.data[rva:]), true
}

func (img *Image) cstring(rva uint64) string {
	if rva >= uint64(len(img.data)) {
		return ""
	}
	b := img.data[rva:]
	if len(b) > maxNameLen {
		b = b[:maxNameLen]
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// walkExports reads the export directory at dirRVA. Table sizes are
// clipped to what the image actually contains.
func (img *Image) walkExports(dirRVA, dirSize uint32) ([]Export, string) {
	if dirRVA == 0 || uint64(dirRVA)+40 > uint64(len(img.data)) {
		return nil, ""
	}

	d := uint64(dirRVA)
	nameRVA, _ := img.u32(d + 12)
	ordBase, _ := img.u32(d + 16)
	numFuncs, _ := img.u32(d + 20)
	numNames, _ := img.u32(d + 24)
	funcsRVA, _ := img.u32(d + 28)
	namesRVA, _ := img.u32(d + 32)
	ordsRVA, _ := img.u32(d + 36)

	size := uint64(len(img.data))
	if uint64(funcsRVA) >= size {
		return nil, img.cstring(uint64(nameRVA))
	}
	if limit := (size - uint64(funcsRVA)) / 4; uint64(numFuncs) > limit {
		numFuncs = uint32(limit)
	}

	if uint64(namesRVA) >= size || uint64(ordsRVA) >= size {
		numNames = 0
	}
	if limit := (size - uint64(namesRVA)) / 4; uint64(numNames) > limit {
		numNames = uint32(limit)
	}
	if limit := (size - uint64(ordsRVA)) / 2; uint64(numNames) > limit {
		numNames = uint32(limit)
	}

	names := make(map[uint32]string, min(numNames, numFuncs))
	for i := uint64(0); i < uint64(numNames); i++ {
		nrva, ok := img.u32(uint64(namesRVA) + 4*i)
		if !ok {
			break
		}
		idx, ok := img.u16(uint64(ordsRVA) + 2*i)
		if !ok {
			break
		}
		if uint32(idx) >= numFuncs {
			continue
		}
		if _, dup := names[uint32(idx)]; !dup {
			names[uint32(idx)] = img.cstring(uint64(nrva))
		}
	}

	exports := make([]Export, 0, numFuncs)
	for i := uint32(0); i < numFuncs; i++ {
		rva, _ := img.u32(uint64(funcsRVA) + 4*uint64(i))
		if rva == 0 {
			continue
		}

		x := Export{
			Ordinal: ordBase + i,
			Name:    names[i],
		}
		if rva >= dirRVA && uint64(rva) < uint64(dirRVA)+uint64(dirSize) {
			x.Forwarder = img.cstring(uint64(rva))
		} else {
			x.Address = img.base + uint64(rva)
		}
		exports = append(exports, x)
	}

	return exports, img.cstring(uint64(nameRVA))
}
