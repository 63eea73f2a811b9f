package pagefault

import (
	"fmt"

	"github.com/ignaciolitma/nachOS/mem/vm"
)

// State is the progress of a fault.
type State int

// The states of a fault. A fault ends either Installed, and the faulting
// access is retried, or ProcessTerminated.
const (
	Running State = iota
	Trapped
	Resolving
	Installed
	ProcessTerminated
)

var stateNames = [...]string{
	"Running",
	"Trapped",
	"Resolving",
	"Installed",
	"ProcessTerminated",
}

func (s State) String() string {
	if s < Running || s > ProcessTerminated {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

// IsTerminal tells if a fault in the state is over.
func (s State) IsTerminal() bool {
	return s == Installed || s == ProcessTerminated
}

var allowedTransitions = map[State][]State{
	Running:   {Trapped},
	Trapped:   {Resolving, ProcessTerminated},
	Resolving: {Installed, ProcessTerminated},
}

func canTransit(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// A Fault records the handling of one trap.
type Fault struct {
	ID    string
	PID   vm.PID
	VAddr uint64
	VPN   vm.VPN
	Kind  vm.ExceptionType
	State State

	// History lists the states the fault went through, the current one
	// included.
	History []State

	// Slot is the TLB slot that received the translation.
	Slot  int
	Entry vm.PageTableEntry

	// Exception is the exit status of a terminated process.
	Exception vm.ExceptionType
	Err       error
}

// Retry tells if the faulting access must be executed again.
func (f *Fault) Retry() bool {
	return f.State == Installed
}

// Terminated tells if the process must be terminated.
func (f *Fault) Terminated() bool {
	return f.State == ProcessTerminated
}
