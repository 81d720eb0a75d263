package proc

import "strings"

// Protection holds page protection flags. The values follow the
// Windows PAGE_* constants, other targets translate into them.
type Protection uint32

const (
	PageNoAccess         Protection = 0x01
	PageReadOnly         Protection = 0x02
	PageReadWrite        Protection = 0x04
	PageWriteCopy        Protection = 0x08
	PageExecute          Protection = 0x10
	PageExecuteRead      Protection = 0x20
	PageExecuteReadWrite Protection = 0x40
	PageExecuteWriteCopy Protection = 0x80
	PageGuard            Protection = 0x100
	PageNoCache          Protection = 0x200
)

const (
	readable   = PageReadOnly | PageReadWrite | PageWriteCopy | PageExecuteRead | PageExecuteReadWrite | PageExecuteWriteCopy
	writable   = PageReadWrite | PageWriteCopy | PageExecuteReadWrite | PageExecuteWriteCopy
	executable = PageExecute | PageExecuteRead | PageExecuteReadWrite | PageExecuteWriteCopy
)

func (p Protection) Guarded() bool {
	return p&PageGuard != 0
}

// Unguarded returns p with the guard bit cleared.
func (p Protection) Unguarded() Protection {
	return p &^ PageGuard
}

func (p Protection) Readable() bool {
	return p&readable != 0
}

func (p Protection) String() string {
	if p == 0 {
		return "---"
	}

	var b strings.Builder
	flag := func(set bool, c byte) {
		if set {
			b.WriteByte(c)
		} else {
			b.WriteByte('-')
		}
	}
	flag(p&readable != 0, 'r')
	flag(p&writable != 0, 'w')
	flag(p&executable != 0, 'x')
	if p.Guarded() {
		b.WriteString("+g")
	}
	return b.String()
}

// ParsePerms translates a /proc/<pid>/maps permission field ("r-xp")
// into a Protection.
func ParsePerms(perms string) Protection {
	if len(perms) < 3 {
		return 0
	}

	r, w, x := perms[0] == 'r', perms[1] == 'w', perms[2] == 'x'
	private := len(perms) > 3 && perms[3] == 'p'

	switch {
	case x && w && private:
		return PageExecuteWriteCopy
	case x && w:
		return PageExecuteReadWrite
	case x && r:
		return PageExecuteRead
	case x:
		return PageExecute
	case w && private:
		return PageWriteCopy
	case w:
		return PageReadWrite
	case r:
		return PageReadOnly
	default:
		return PageNoAccess
	}
}
