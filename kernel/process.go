package kernel

import (
	"github.com/ignaciolitma/nachOS/exe"
	"github.com/ignaciolitma/nachOS/machine"
	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/mem/vm/paging"
)

// ProcessState tells if a process can run.
type ProcessState int

// The states of a process.
const (
	Created ProcessState = iota
	Ready
	Running
	Finished
)

func (s ProcessState) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// A Process is a user program with a list of memory accesses to perform.
type Process struct {
	pid      vm.PID
	name     string
	taskID   string
	space    *paging.AddressSpace
	exe      *exe.File
	accesses []Access
	next     int
	reads    int
	writes   int
	checksum uint64

	registers [machine.NumTotalRegs]uint64

	state      ProcessState
	exitStatus int
	err        error
	done       chan struct{}
}

// ProcessInfo is a snapshot of a process.
type ProcessInfo struct {
	PID        vm.PID `json:"pid"`
	Name       string `json:"name"`
	State      string `json:"state"`
	NumPages   int    `json:"num_pages"`
	Resident   int    `json:"resident"`
	SwapSlots  int    `json:"swap_slots"`
	Done       int    `json:"done"`
	Total      int    `json:"total"`
	Reads      int    `json:"reads"`
	Writes     int    `json:"writes"`
	Checksum   uint64 `json:"checksum"`
	ExitStatus int    `json:"exit_status"`
	Error      string `json:"error,omitempty"`
}

func (p *Process) info() ProcessInfo {
	info := ProcessInfo{
		PID:        p.pid,
		Name:       p.name,
		State:      p.state.String(),
		Done:       p.next,
		Total:      len(p.accesses),
		Reads:      p.reads,
		Writes:     p.writes,
		Checksum:   p.checksum,
		ExitStatus: p.exitStatus,
	}

	if p.err != nil {
		info.Error = p.err.Error()
	}

	if p.space != nil {
		info.NumPages = p.space.NumPages()
		info.Resident, info.SwapSlots = p.space.Usage()
	}

	return info
}
