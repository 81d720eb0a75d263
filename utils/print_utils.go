package utils

import (
	"fmt"
	"io"
	"strings"
)

func PrintStringLine(w io.Writer, s ...string) {
	for _, str := range s {
		fmt.Fprintln(w, str)
	}
}

// FormatAddr renders an address zero padded to 8 or 16 digits.
func FormatAddr(v uint64) string {
	if v>>32 == 0 {
		return fmt.Sprintf("%08x", v)
	}
	return fmt.Sprintf("%016x", v)
}

// Hexdump writes data 16 bytes per line, each line starting with the
// address of its first byte.
func Hexdump(w io.Writer, addr uint64, data []byte) {
	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		line := data[off:min(off+16, len(data))]

		b.Reset()
		b.WriteString(FormatAddr(addr + uint64(off)))
		b.WriteString("  ")
		for i := 0; i < 16; i++ {
			if i < len(line) {
				fmt.Fprintf(&b, "%02x ", line[i])
			} else {
				b.WriteString("   ")
			}
			if i == 7 {
				b.WriteByte(' ')
			}
		}
		b.WriteString(" |")
		for _, c := range line {
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			b.WriteByte(c)
		}
		b.WriteString("|\n")
		io.WriteString(w, b.String())
	}
}
