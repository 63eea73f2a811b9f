// Package kernel runs user processes on the simulated machine. It owns the
// virtual memory subsystem and handles the exceptions that the machine
// raises.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"github.com/ignaciolitma/nachOS/exe"
	"github.com/ignaciolitma/nachOS/machine"
	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/mem/vm/pagefault"
	"github.com/ignaciolitma/nachOS/mem/vm/paging"
	"github.com/ignaciolitma/nachOS/mem/vm/tlb"
	"github.com/ignaciolitma/nachOS/sim"
	"github.com/ignaciolitma/nachOS/tracing"
)

// ErrNoSuchProcess is returned for process IDs that were never created.
var ErrNoSuchProcess = errors.New("no such process")

// Stats summarizes the work of the kernel.
type Stats struct {
	Ticks           sim.VTime
	Policy          string
	FreeFrames      int
	NumFrames       int
	ContextSwitches uint64
	TLBHits         uint64
	TLBMisses       uint64
	Frames          paging.Stats
	Faults          pagefault.Stats
}

// A Kernel runs processes on a machine.
type Kernel struct {
	sim.NamedBase
	sim.HookableBase

	fs      afero.Fs
	clock   *sim.Clock
	tlb     *tlb.TLB
	coreMap *paging.CoreMap
	faults  *pagefault.Controller
	machine *machine.Machine
	quantum int

	mu              sync.Mutex
	processes       map[vm.PID]*Process
	ready           []*Process
	current         *Process
	nextPID         vm.PID
	contextSwitches uint64
}

// CoreMap returns the frame allocator.
func (k *Kernel) CoreMap() *paging.CoreMap {
	return k.coreMap
}

// Machine returns the machine.
func (k *Kernel) Machine() *machine.Machine {
	return k.machine
}

// TLB returns the translation buffer.
func (k *Kernel) TLB() *tlb.TLB {
	return k.tlb
}

// FaultHandler returns the page fault controller.
func (k *Kernel) FaultHandler() *pagefault.Controller {
	return k.faults
}

// Clock returns the clock of the machine.
func (k *Kernel) Clock() *sim.Clock {
	return k.clock
}

// BuildAddressSpace opens an executable and creates the address space of a
// new process for it. The process does not run until it is given accesses
// with Exec.
func (k *Kernel) BuildAddressSpace(name string) (*paging.AddressSpace, error) {
	f, err := exe.Open(k.fs, name)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	pid := k.nextPID
	k.nextPID++
	k.mu.Unlock()

	space, err := k.coreMap.BuildAddressSpace(pid, f)
	if err != nil {
		f.Close()
		return nil, err
	}

	k.mu.Lock()
	k.processes[pid] = &Process{
		pid:   pid,
		name:  name,
		space: space,
		exe:   f,
		state: Created,
		done:  make(chan struct{}),
	}
	k.mu.Unlock()

	return space, nil
}

// LoadPage makes a page of a process resident.
func (k *Kernel) LoadPage(pid vm.PID, vpn vm.VPN) (vm.PageTableEntry, error) {
	space, ok := k.coreMap.AddressSpace(pid)
	if !ok {
		return vm.PageTableEntry{}, fmt.Errorf("process %d: %w", pid, ErrNoSuchProcess)
	}

	return space.LoadPage(vpn)
}

// ReleaseAddressSpace frees the frames and the swap area of a process and
// returns the number of frames freed. A process that has not finished is
// terminated with status 0.
func (k *Kernel) ReleaseAddressSpace(pid vm.PID) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, ok := k.processes[pid]
	if !ok {
		return 0, fmt.Errorf("process %d: %w", pid, ErrNoSuchProcess)
	}

	freed, err := k.release(p)
	k.finish(p, 0, nil)

	return freed, err
}

func (k *Kernel) release(p *Process) (int, error) {
	if p.space == nil {
		return 0, nil
	}

	if k.current == p {
		k.tlb.Flush()
		k.current = nil
	}

	before := k.coreMap.FreeCount()
	err := p.space.Destroy()
	freed := k.coreMap.FreeCount() - before

	if closeErr := p.exe.Close(); err == nil {
		err = closeErr
	}

	p.space = nil

	return freed, err
}

// FreeFrameCount returns the number of free physical frames.
func (k *Kernel) FreeFrameCount() int {
	return k.coreMap.FreeCount()
}

// Frames returns a snapshot of the frame table.
func (k *Kernel) Frames() []paging.Frame {
	return k.coreMap.Frames()
}

// CurrentTime returns the number of ticks the machine has run.
func (k *Kernel) CurrentTime() sim.VTime {
	return k.clock.CurrentTime()
}

// Exec starts a process that runs the executable name and performs the given
// accesses.
func (k *Kernel) Exec(name string, accesses []Access) (vm.PID, error) {
	space, err := k.BuildAddressSpace(name)
	if err != nil {
		return vm.NoPID, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	p := k.processes[space.PID()]
	p.accesses = accesses
	p.state = Ready
	p.taskID = sim.GetIDGenerator().Generate()
	k.ready = append(k.ready, p)

	tracing.StartTask(p.taskID, "", k, "process", name, p.pid)

	return p.pid, nil
}

// Run executes the ready processes in round robin until all of them finish
// or ctx is done.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := k.nextReady()
		if p == nil {
			return nil
		}

		k.runSlice(p)
	}
}

func (k *Kernel) nextReady() *Process {
	k.mu.Lock()
	defer k.mu.Unlock()

	for len(k.ready) > 0 {
		p := k.ready[0]
		k.ready = k.ready[1:]

		if p.state == Ready {
			k.switchTo(p)
			return p
		}
	}

	return nil
}

func (k *Kernel) runSlice(p *Process) {
	for i := 0; i < k.quantum; i++ {
		k.mu.Lock()
		if p.state != Running {
			k.mu.Unlock()
			return
		}

		if lost := p.space.Lost(); lost != nil {
			k.exit(p, int(vm.ExceptionOf(lost)), &vm.FaultError{
				PID:       p.pid,
				Exception: vm.ExceptionOf(lost),
				Err:       lost,
			})
			k.mu.Unlock()

			return
		}

		if p.next >= len(p.accesses) {
			k.exit(p, 0, nil)
			k.mu.Unlock()

			return
		}

		a := p.accesses[p.next]
		k.mu.Unlock()

		var (
			value     uint32
			exception vm.ExceptionType
		)
		if a.Write {
			exception = k.machine.WriteMem(a.VAddr, 1, a.Value&0xff)
		} else {
			value, exception = k.machine.ReadMem(a.VAddr, 1)
		}

		k.mu.Lock()
		if exception == vm.NoException {
			p.next++
			if a.Write {
				p.writes++
			} else {
				p.reads++
				p.checksum += uint64(value)
			}
		} else if p.state == Running {
			k.exit(p, int(exception), &vm.FaultError{
				PID:       p.pid,
				VAddr:     a.VAddr,
				Exception: exception,
				Err:       errors.New("access not resolved"),
			})
		}
		k.mu.Unlock()
	}

	k.mu.Lock()
	if p.state == Running {
		p.state = Ready
		k.ready = append(k.ready, p)
	}
	k.mu.Unlock()
}

// switchTo gives the machine to p. The TLB bits of the previous process are
// saved into its page table before the TLB is flushed.
func (k *Kernel) switchTo(p *Process) {
	prev := k.current
	if prev != p {
		if prev != nil {
			prev.registers = k.machine.Registers()
			for _, e := range k.tlb.Flush() {
				prev.space.UpdateFromTLB(e)
			}
		}

		k.machine.RestoreRegisters(p.registers)
		k.current = p
		k.contextSwitches++
	}

	p.state = Running
}

// Exit terminates a process with a status.
func (k *Kernel) Exit(pid vm.PID, status int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, ok := k.processes[pid]
	if !ok {
		return fmt.Errorf("process %d: %w", pid, ErrNoSuchProcess)
	}

	return k.exit(p, status, nil)
}

func (k *Kernel) exit(p *Process, status int, cause error) error {
	_, err := k.release(p)
	k.finish(p, status, cause)

	return err
}

func (k *Kernel) finish(p *Process, status int, cause error) {
	if p.state == Finished {
		return
	}

	p.state = Finished
	p.exitStatus = status
	p.err = cause
	close(p.done)

	if p.taskID != "" {
		tracing.EndTask(p.taskID, k)
	}
}

// Join waits until a process finishes and returns its exit status.
func (k *Kernel) Join(ctx context.Context, pid vm.PID) (int, error) {
	k.mu.Lock()
	p, ok := k.processes[pid]
	k.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("process %d: %w", pid, ErrNoSuchProcess)
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	return p.exitStatus, p.err
}

// Processes returns a snapshot of all processes, ordered by PID.
func (k *Kernel) Processes() []ProcessInfo {
	k.mu.Lock()
	defer k.mu.Unlock()

	infos := make([]ProcessInfo, 0, len(k.processes))
	for _, p := range k.processes {
		infos = append(infos, p.info())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].PID < infos[j].PID
	})

	return infos
}

// Stats returns the counters of the kernel and of its components.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	switches := k.contextSwitches
	k.mu.Unlock()

	return Stats{
		Ticks:           k.clock.CurrentTime(),
		Policy:          k.coreMap.Policy().String(),
		FreeFrames:      k.coreMap.FreeCount(),
		NumFrames:       k.coreMap.NumFrames(),
		ContextSwitches: switches,
		TLBHits:         k.tlb.Hits(),
		TLBMisses:       k.tlb.Misses(),
		Frames:          k.coreMap.Stats(),
		Faults:          k.faults.Stats(),
	}
}

// HandleException resolves the exceptions of the running process. Page
// faults are sent to the fault handler. A fault that cannot be resolved, and
// any other exception, terminates the process with the exception as its exit
// status.
func (k *Kernel) HandleException(
	m *machine.Machine,
	which vm.ExceptionType,
	vaddr uint64,
) bool {
	k.mu.Lock()
	p := k.current
	k.mu.Unlock()

	if p == nil {
		log.Panicf("%s raised with no process running", which)
	}

	var err error

	switch which {
	case vm.PageFaultException, vm.ReadOnlyException:
		f := k.faults.Handle(p.space, which, vaddr)
		if f.Retry() {
			return true
		}

		err = f.Err
		which = f.Exception
	default:
		err = &vm.FaultError{
			PID:       p.pid,
			VAddr:     vaddr,
			Exception: which,
			Err:       fmt.Errorf("unexpected %s", which),
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.exit(p, int(which), err)

	return false
}
