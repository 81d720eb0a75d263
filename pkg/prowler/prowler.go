// Package prowler attaches to live processes and exposes them as
// proc.Process: memory reads, page protections, modules, the memory map
// and the registers of the current thread.
package prowler

import (
	"apiscope/pkg/proc"
)

var _ proc.Process = (*Prowler)(nil)

func (p *Prowler) Pid() int {
	return p.pid
}
