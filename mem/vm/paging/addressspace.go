package paging

import (
	"errors"
	"fmt"
	"io"

	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/sim"
	"github.com/ignaciolitma/nachOS/tracing"
)

// An AddressSpace is the virtual memory of a process. Pages are backed by the
// executable until they are first evicted dirty, and by the swap area after
// that.
type AddressSpace struct {
	pid       vm.PID
	coreMap   *CoreMap
	exe       vm.Executable
	swap      *SwapStore
	pageTable []vm.PageTableEntry

	// lost is set when the pages of the process could not be saved while
	// another process needed their frames.
	lost error
}

func newAddressSpace(c *CoreMap, pid vm.PID, exe vm.Executable) *AddressSpace {
	size := exe.Size() + int64(c.stackSize)
	numPages := int((size + int64(c.pageSize) - 1) / int64(c.pageSize))

	s := &AddressSpace{
		pid:       pid,
		coreMap:   c,
		exe:       exe,
		swap:      NewSwapStore(c.swapFs, SwapFileName(pid), c.pageSize),
		pageTable: make([]vm.PageTableEntry, numPages),
	}

	readOnlyPages := int(exe.ReadOnlySize() / int64(c.pageSize))
	for i := range s.pageTable {
		s.pageTable[i] = vm.PageTableEntry{
			VirtualPage: vm.VPN(i),
			ReadOnly:    i < readOnlyPages,
			SwapSlot:    vm.NoSwapSlot,
		}
	}

	return s
}

// PID returns the process that owns the address space.
func (s *AddressSpace) PID() vm.PID {
	return s.pid
}

// NumPages returns the number of pages of the address space.
func (s *AddressSpace) NumPages() int {
	return len(s.pageTable)
}

// PageSize returns the number of bytes in a page.
func (s *AddressSpace) PageSize() int {
	return s.coreMap.pageSize
}

// SwapStore returns the swap area of the address space.
func (s *AddressSpace) SwapStore() *SwapStore {
	return s.swap
}

// Entry returns the page table entry of a page.
func (s *AddressSpace) Entry(vpn vm.VPN) (vm.PageTableEntry, bool) {
	s.coreMap.mu.Lock()
	defer s.coreMap.mu.Unlock()

	if !s.contains(vpn) {
		return vm.PageTableEntry{}, false
	}

	return s.pageTable[vpn], true
}

// PageTable returns a copy of the page table.
func (s *AddressSpace) PageTable() []vm.PageTableEntry {
	s.coreMap.mu.Lock()
	defer s.coreMap.mu.Unlock()

	return append([]vm.PageTableEntry(nil), s.pageTable...)
}

// Usage returns the number of resident pages and the number of swap slots
// handed out.
func (s *AddressSpace) Usage() (resident, swapSlots int) {
	s.coreMap.mu.Lock()
	defer s.coreMap.mu.Unlock()

	for _, e := range s.pageTable {
		if e.Valid {
			resident++
		}
	}

	return resident, s.swap.NumSlots()
}

// LoadPage makes a page resident and returns its entry. Loading a resident
// page changes nothing.
func (s *AddressSpace) LoadPage(vpn vm.VPN) (vm.PageTableEntry, error) {
	s.coreMap.mu.Lock()
	defer s.coreMap.mu.Unlock()

	if !s.contains(vpn) {
		return vm.PageTableEntry{}, fmt.Errorf(
			"page %d of process %d (%d pages): %w",
			vpn, s.pid, len(s.pageTable), vm.ErrAddressOutOfRange)
	}

	if s.lost != nil {
		return vm.PageTableEntry{}, s.lost
	}

	return s.loadPage(vpn)
}

// Lost returns the error that made the process lose its resident pages, or
// nil. A process that lost its pages cannot load any page again and must be
// terminated.
func (s *AddressSpace) Lost() error {
	s.coreMap.mu.Lock()
	defer s.coreMap.mu.Unlock()

	return s.lost
}

// contains compares in the unsigned domain so that no page number wraps.
func (s *AddressSpace) contains(vpn vm.VPN) bool {
	return uint64(vpn) < uint64(len(s.pageTable))
}

func (s *AddressSpace) loadPage(vpn vm.VPN) (vm.PageTableEntry, error) {
	entry := &s.pageTable[vpn]
	if entry.Valid {
		return *entry, nil
	}

	c := s.coreMap
	taskID := sim.GetIDGenerator().Generate()
	tracing.StartTask(taskID, "", c, "frame", "load", *entry)
	defer tracing.EndTask(taskID, c)

	frame, err := c.allocate(s.pid, vpn, taskID)
	if err != nil {
		return *entry, err
	}

	buf := c.FrameData(frame)
	if entry.OnSwap() {
		tracing.AddTaskStep(taskID, c, "swap_in")
		c.stats.SwapIns++
		err = s.swap.ReadFromSwap(vpn, buf)
	} else {
		tracing.AddTaskStep(taskID, c, "exec_load")
		c.stats.ExecLoads++
		err = s.readExecutable(vpn, buf)
	}

	if err != nil {
		c.release(frame)
		return *entry, err
	}

	entry.PhysicalPage = frame
	entry.Valid = true
	entry.Loaded = true
	entry.Dirty = false
	entry.Use = false

	return *entry, nil
}

func (s *AddressSpace) readExecutable(vpn vm.VPN, buf []byte) error {
	clear(buf)

	offset := int64(vpn) * int64(len(buf))
	if offset >= s.exe.Size() {
		return nil
	}

	n := min(int64(len(buf)), s.exe.Size()-offset)

	_, err := s.exe.ReadAt(buf[:n], offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: page %d of process %d: %v",
			vm.ErrExecutableIO, vpn, s.pid, err)
	}

	return nil
}

// evict moves a resident page out of its frame. A dirty page goes to swap. A
// clean page is dropped and later fetched again from its swap slot, or from
// the executable if it never had one.
func (s *AddressSpace) evict(f Frame, taskID string) error {
	c := s.coreMap
	entry := &s.pageTable[f.VirtualPage]

	dirty := entry.Dirty || f.Dirty
	if c.tlb != nil {
		cached, ok := c.tlb.InvalidateFrame(f.Index)
		if ok && cached.VirtualPage == f.VirtualPage {
			dirty = dirty || cached.Dirty
		}
	}

	if dirty {
		tracing.AddTaskStep(taskID, c, "swap_out")

		slot, err := s.swap.WriteToSwap(f.VirtualPage, c.FrameData(f.Index))
		if err != nil {
			entry.Dirty = true
			return fmt.Errorf("evict page %d of process %d: %w",
				f.VirtualPage, s.pid, err)
		}

		entry.SwapSlot = slot
		c.stats.SwapOuts++
	} else {
		tracing.AddTaskStep(taskID, c, "discard")
		c.stats.Discards++
	}

	entry.Valid = false
	entry.Dirty = false
	entry.Use = false

	return nil
}

// UpdateFromTLB copies the dirty and use bits of a translation buffer entry
// back into the page table. Entries that no longer match the page table are
// ignored.
func (s *AddressSpace) UpdateFromTLB(e vm.TLBEntry) {
	s.coreMap.mu.Lock()
	defer s.coreMap.mu.Unlock()

	if !e.Valid || !s.contains(e.VirtualPage) {
		return
	}

	entry := &s.pageTable[e.VirtualPage]
	if !entry.Valid || entry.PhysicalPage != e.PhysicalPage {
		return
	}

	entry.Dirty = entry.Dirty || e.Dirty
	entry.Use = e.Use
}

// Destroy releases the frames and the swap area of the address space. The
// address space must not be used afterwards.
func (s *AddressSpace) Destroy() error {
	c := s.coreMap

	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseAll(s.pid)
	delete(c.spaces, s.pid)

	return s.swap.Remove()
}
