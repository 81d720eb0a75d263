// Package petest builds small mapped PE images for tests.
package petest

import "encoding/binary"

const (
	ImageSize  = 0x3000
	TextRVA    = 0x1000
	EdataRVA   = 0x2000
	lfanew     = 0x80
	dirEntries = 16
)

// Export describes one export slot. An empty Name makes it ordinal-only,
// a non-empty Forward makes it a forwarder ("NTDLL.RtlAllocateHeap").
// A zero RVA leaves the slot unused.
type Export struct {
	Name    string
	RVA     uint32
	Forward string
}

type Config struct {
	DLLName     string
	OrdinalBase uint32
	Exports     []Export
	PE32Plus    bool
}

// Build returns the image as the loader would have mapped it, so RVAs
// are offsets into the returned slice.
func Build(c Config) []byte {
	img := make([]byte, ImageSize)
	le := binary.LittleEndian

	img[0], img[1] = 'M', 'Z'
	le.PutUint32(img[0x3c:], lfanew)
	copy(img[lfanew:], "PE\x00\x00")

	fh := img[lfanew+4:]
	optSize := 0xe0
	if c.PE32Plus {
		optSize = 0xf0
		le.PutUint16(fh[0:], 0x8664)
		le.PutUint16(fh[18:], 0x2022)
	} else {
		le.PutUint16(fh[0:], 0x14c)
		le.PutUint16(fh[18:], 0x2102)
	}
	le.PutUint16(fh[2:], 2)
	le.PutUint16(fh[16:], uint16(optSize))

	oh := img[lfanew+24:]
	ddOff := 96
	if c.PE32Plus {
		le.PutUint16(oh[0:], 0x20b)
		le.PutUint64(oh[24:], 0x180000000)
		le.PutUint32(oh[108:], dirEntries)
		ddOff = 112
	} else {
		le.PutUint16(oh[0:], 0x10b)
		le.PutUint32(oh[28:], 0x10000000)
		le.PutUint32(oh[92:], dirEntries)
	}
	le.PutUint32(oh[32:], 0x1000)
	le.PutUint32(oh[36:], 0x200)
	le.PutUint32(oh[56:], ImageSize)
	le.PutUint32(oh[60:], 0x400)

	sh := img[lfanew+24+optSize:]
	putSection(sh[0:], ".text", TextRVA, 0x1000, 0x400, 0x60000020)
	putSection(sh[40:], ".edata", EdataRVA, 0x1000, 0x1400, 0x40000040)

	dirSize := putExports(img, c)
	le.PutUint32(oh[ddOff:], EdataRVA)
	le.PutUint32(oh[ddOff+4:], dirSize)

	return img
}

func putSection(b []byte, name string, rva, size, raw, characteristics uint32) {
	le := binary.LittleEndian
	copy(b[0:8], name)
	le.PutUint32(b[8:], size)
	le.PutUint32(b[12:], rva)
	le.PutUint32(b[16:], size)
	le.PutUint32(b[20:], raw)
	le.PutUint32(b[36:], characteristics)
}

func putExports(img []byte, c Config) uint32 {
	le := binary.LittleEndian
	base := c.OrdinalBase
	if base == 0 {
		base = 1
	}

	var named []int
	for i, e := range c.Exports {
		if e.Name != "" {
			named = append(named, i)
		}
	}

	funcs := uint32(EdataRVA + 40)
	names := funcs + uint32(4*len(c.Exports))
	ords := names + uint32(4*len(named))
	str := ords + uint32(2*len(named))

	putString := func(s string) uint32 {
		rva := str
		copy(img[rva:], s)
		str += uint32(len(s)) + 1
		return rva
	}

	dir := img[EdataRVA:]
	le.PutUint32(dir[12:], putString(c.DLLName))
	le.PutUint32(dir[16:], base)
	le.PutUint32(dir[20:], uint32(len(c.Exports)))
	le.PutUint32(dir[24:], uint32(len(named)))
	le.PutUint32(dir[28:], funcs)
	le.PutUint32(dir[32:], names)
	le.PutUint32(dir[36:], ords)

	for i, e := range c.Exports {
		rva := e.RVA
		if e.Forward != "" {
			rva = putString(e.Forward)
		}
		le.PutUint32(img[funcs+uint32(4*i):], rva)
	}
	for j, i := range named {
		le.PutUint32(img[names+uint32(4*j):], putString(c.Exports[i].Name))
		le.PutUint16(img[ords+uint32(2*j):], uint16(i))
	}

	return str - EdataRVA
}
