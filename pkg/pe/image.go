// Package pe extracts exports and section metadata from PE images as
// they are mapped in memory.
package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Binject/debug/pe"

	e "apiscope/error"
)

const (
	magicPE32     = 0x10b
	magicPE32Plus = 0x20b

	dirExport = 0
)

// Image is a PE image copied out of a process. Offsets inside data are
// RVAs, as the loader lays the image out.
type Image struct {
	base     uint64
	data     []byte
	valid    bool
	is64     bool
	dllName  string
	exports  []Export
	sections []Section
}

type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	RawOffset       uint32
	RawSize         uint32
	Characteristics uint32
}

// NewImage wraps data loaded at base. Call Parse before using it.
func NewImage(base uint64, data []byte) *Image {
	return &Image{base: base, data: data}
}

// Parse validates the headers and extracts exports and sections. On
// error the image stays invalid and every accessor returns nothing.
func (img *Image) Parse() error {
	img.valid, img.is64, img.dllName = false, false, ""
	img.exports, img.sections = nil, nil

	is64, err := checkHeaders(img.data)
	if err != nil {
		return fmt.Errorf("%w: %v", e.ErrInvalidImage, err)
	}

	f, err := pe.NewFileFromMemory(bytes.NewReader(img.data))
	if err != nil {
		return fmt.Errorf("%w: %v", e.ErrInvalidImage, err)
	}
	defer f.Close()

	sections := make([]Section, 0, len(f.Sections))
	for _, s := range f.Sections {
		sections = append(sections, Section{
			Name:            s.Name,
			VirtualAddress:  s.VirtualAddress,
			VirtualSize:     s.VirtualSize,
			RawOffset:       s.Offset,
			RawSize:         s.Size,
			Characteristics: s.Characteristics,
		})
	}

	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes > dirExport {
			dir = oh.DataDirectory[dirExport]
		}
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes > dirExport {
			dir = oh.DataDirectory[dirExport]
		}
	}

	img.exports, img.dllName = img.walkExports(dir.VirtualAddress, dir.Size)
	img.sections = sections
	img.is64 = is64
	img.valid = true
	return nil
}

func checkHeaders(data []byte) (is64 bool, err error) {
	if len(data) < 0x40 || data[0] != 'M' || data[1] != 'Z' {
		return false, fmt.Errorf("bad DOS signature")
	}

	lfanew := uint64(binary.LittleEndian.Uint32(data[0x3c:]))
	if lfanew+24+2 > uint64(len(data)) {
		return false, fmt.Errorf("e_lfanew %#x out of bounds", lfanew)
	}
	if !bytes.Equal(data[lfanew:lfanew+4], []byte("PE\x00\x00")) {
		return false, fmt.Errorf("bad NT signature")
	}

	switch magic := binary.LittleEndian.Uint16(data[lfanew+24:]); magic {
	case magicPE32:
		return false, nil
	case magicPE32Plus:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected optional header magic %#x", magic)
	}
}

func (img *Image) Valid() bool {
	return img.valid
}

func (img *Image) Base() uint64 {
	return img.base
}

// Is64 reports a PE32+ image.
func (img *Image) Is64() bool {
	return img.is64
}

// DLLName is the name recorded in the export directory, if any.
func (img *Image) DLLName() string {
	return img.dllName
}

func (img *Image) Exports() []Export {
	if !img.valid {
		return nil
	}
	return img.exports
}

func (img *Image) Sections() []Section {
	if !img.valid {
		return nil
	}
	return img.sections
}
