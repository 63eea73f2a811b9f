// Package pagefault resolves the traps raised when an access misses the
// translation buffer or writes a read-only page.
package pagefault

import (
	"fmt"
	"log"
	"sync"

	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/sim"
	"github.com/ignaciolitma/nachOS/tracing"
)

// Space is the address space of the faulting process.
type Space interface {
	PID() vm.PID
	NumPages() int
	Entry(vpn vm.VPN) (vm.PageTableEntry, bool)
	LoadPage(vpn vm.VPN) (vm.PageTableEntry, error)
	UpdateFromTLB(e vm.TLBEntry)
}

// TranslationBuffer is the hardware TLB as seen by the fault handler.
type TranslationBuffer interface {
	NextSlot() int
	Read(slot int) vm.TLBEntry
	Install(slot int, e vm.TLBEntry)
}

// Stats counts the faults handled by a Controller.
type Stats struct {
	PageFaults     uint64
	ReadOnlyFaults uint64
	TableHits      uint64
	DemandLoads    uint64
	Terminations   uint64
}

// A Controller refills the TLB on page faults. Faults are handled one at a
// time.
type Controller struct {
	sim.HookableBase

	name     string
	pageSize int
	tlb      TranslationBuffer

	mu    sync.Mutex
	stats Stats
}

// Name returns the name of the controller.
func (c *Controller) Name() string {
	return c.name
}

// Stats returns the fault counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// Handle resolves a trap of the given kind raised by an access to vaddr.
func (c *Controller) Handle(
	space Space,
	kind vm.ExceptionType,
	vaddr uint64,
) *Fault {
	switch kind {
	case vm.PageFaultException:
		return c.HandlePageFault(space, vaddr)
	case vm.ReadOnlyException:
		return c.HandleReadOnlyFault(space, vaddr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.trap(space, kind, vaddr)
	defer tracing.EndTask(f.ID, c)

	c.terminate(f, kind, fmt.Errorf("unexpected %s", kind))

	return f
}

// HandlePageFault brings the page of vaddr into memory if needed and
// installs its translation in the TLB. The entry that the new translation
// replaces has its bits written back to the page table first.
func (c *Controller) HandlePageFault(space Space, vaddr uint64) *Fault {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.PageFaults++

	f := c.trap(space, vm.PageFaultException, vaddr)
	defer tracing.EndTask(f.ID, c)

	if f.VPN >= vm.VPN(space.NumPages()) {
		c.terminate(f, vm.AddressErrorException, vm.ErrAddressOutOfRange)
		return f
	}

	c.transit(f, Resolving)

	f.Slot = c.tlb.NextSlot()
	if old := c.tlb.Read(f.Slot); old.Valid {
		tracing.AddTaskStep(f.ID, c, "tlb_writeback")
		space.UpdateFromTLB(old)
	}

	entry, _ := space.Entry(f.VPN)
	if entry.Valid {
		tracing.AddTaskStep(f.ID, c, "table_hit")
		c.stats.TableHits++
	} else {
		tracing.AddTaskStep(f.ID, c, "demand_load")
		c.stats.DemandLoads++

		var err error

		entry, err = space.LoadPage(f.VPN)
		if err != nil {
			c.terminate(f, vm.ExceptionOf(err), err)
			return f
		}
	}

	f.Entry = entry

	tlbEntry := entry.TLBEntry()
	tlbEntry.Dirty = false
	tlbEntry.Use = false

	tracing.AddTaskStep(f.ID, c, "tlb_install")
	c.tlb.Install(f.Slot, tlbEntry)
	c.transit(f, Installed)

	return f
}

// HandleReadOnlyFault terminates the process that wrote a read-only page.
func (c *Controller) HandleReadOnlyFault(space Space, vaddr uint64) *Fault {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.ReadOnlyFaults++

	f := c.trap(space, vm.ReadOnlyException, vaddr)
	defer tracing.EndTask(f.ID, c)

	c.terminate(f, vm.ReadOnlyException, vm.ErrReadOnly)

	return f
}

func (c *Controller) trap(
	space Space,
	kind vm.ExceptionType,
	vaddr uint64,
) *Fault {
	f := &Fault{
		ID:      sim.GetIDGenerator().Generate(),
		PID:     space.PID(),
		VAddr:   vaddr,
		VPN:     vm.VPN(vaddr / uint64(c.pageSize)),
		Kind:    kind,
		State:   Running,
		History: []State{Running},
		Slot:    -1,
	}

	tracing.StartTask(f.ID, "", c, "page_fault", kind.String(), f)
	c.transit(f, Trapped)

	return f
}

func (c *Controller) terminate(f *Fault, exception vm.ExceptionType, err error) {
	tracing.AddTaskStep(f.ID, c, "terminate")

	f.Exception = exception
	f.Err = &vm.FaultError{
		PID:       f.PID,
		VAddr:     f.VAddr,
		Exception: exception,
		Err:       err,
	}
	c.stats.Terminations++

	c.transit(f, ProcessTerminated)
}

func (c *Controller) transit(f *Fault, to State) {
	if !canTransit(f.State, to) {
		log.Panicf("fault %s cannot go from %s to %s", f.ID, f.State, to)
	}

	f.State = to
	f.History = append(f.History, to)
}
