package paging

import (
	"fmt"
	"log"
	"sync"

	"github.com/spf13/afero"

	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/mem/vm/replacement"
	"github.com/ignaciolitma/nachOS/sim"
	"github.com/ignaciolitma/nachOS/tracing"
)

// A TranslationCache holds copies of page table entries. Before a frame is
// given to another page, the cache must drop the entries that map it.
type TranslationCache interface {
	// InvalidateFrame drops the valid entry that maps the frame, if any, and
	// returns it so that its dirty and use bits are not lost.
	InvalidateFrame(frame int) (vm.TLBEntry, bool)
}

// Stats counts what the CoreMap has done.
type Stats struct {
	Allocations uint64
	Evictions   uint64
	SwapOuts    uint64
	Discards    uint64
	SwapIns     uint64
	ExecLoads   uint64
	LostSpaces  uint64
}

// CoreMap is the physical frame allocator. It owns the frame table and the
// page tables of all the address spaces built from it. A single lock guards
// all of them, so that two faults never pick the same victim.
type CoreMap struct {
	sim.HookableBase

	name          string
	pageSize      int
	stackSize     int
	policy        replacement.Policy
	demandLoading bool
	memory        []byte
	swapFs        afero.Fs
	tlb           TranslationCache

	mu      sync.Mutex
	frames  *FrameTable
	victims replacement.VictimFinder
	spaces  map[vm.PID]*AddressSpace
	stats   Stats
}

// Name returns the name of the CoreMap.
func (c *CoreMap) Name() string {
	return c.name
}

// PageSize returns the number of bytes in a page.
func (c *CoreMap) PageSize() int {
	return c.pageSize
}

// Policy returns the frame replacement policy.
func (c *CoreMap) Policy() replacement.Policy {
	return c.policy
}

// NumFrames returns the number of physical frames.
func (c *CoreMap) NumFrames() int {
	return c.frames.NumFrames()
}

// FreeCount returns the number of frames that are not owned.
func (c *CoreMap) FreeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.frames.NumFree()
}

// Frames returns a snapshot of the frame table.
func (c *CoreMap) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.frames.Snapshot()
}

// Stats returns the counters of the CoreMap.
func (c *CoreMap) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// Allocate gives a frame to a page of a process. If all the frames are owned,
// a victim is evicted first. Evicting a frame writes the page it holds to the
// swap of its owner if the page is dirty. When that write fails and the victim
// belongs to pid, the error is returned and the victim stays resident. When
// the victim belongs to another process, that process loses all its frames
// and is marked lost (see AddressSpace.Lost), and the allocation succeeds.
func (c *CoreMap) Allocate(pid vm.PID, vpn vm.VPN) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.allocate(pid, vpn, "")
}

func (c *CoreMap) allocate(pid vm.PID, vpn vm.VPN, taskID string) (int, error) {
	frame, ok := c.frames.FindFree()
	if !ok {
		var err error

		frame, err = c.evict(pid, taskID)
		if err != nil {
			return -1, err
		}
	}

	c.frames.Book(frame, pid, vpn)
	c.victims.Allocated(frame)
	c.stats.Allocations++

	return frame, nil
}

func (c *CoreMap) evict(pid vm.PID, parentTaskID string) (int, error) {
	victim, ok := c.victims.FindVictim()
	if !ok {
		log.Panicf("%s: no frame can be evicted", c.name)
	}

	f := c.frames.Get(victim)
	if f.Free() {
		log.Panicf("%s: victim frame %d is free", c.name, victim)
	}

	owner, found := c.spaces[f.Owner]
	if !found {
		log.Panicf("%s: frame %d is owned by unknown process %d",
			c.name, victim, f.Owner)
	}

	taskID := sim.GetIDGenerator().Generate()
	tracing.StartTask(taskID, parentTaskID, c, "frame", "evict", f)
	defer tracing.EndTask(taskID, c)

	err := owner.evict(f, taskID)
	if err == nil {
		c.release(victim)
		c.stats.Evictions++

		return victim, nil
	}

	if owner.pid == pid {
		return -1, err
	}

	tracing.AddTaskStep(taskID, c, "owner_lost")
	c.abandon(owner, err)

	return victim, nil
}

// abandon takes every frame away from an address space whose page could not
// be saved. The process can no longer be resumed.
func (c *CoreMap) abandon(s *AddressSpace, cause error) {
	s.lost = fmt.Errorf("process %d lost its resident pages: %w", s.pid, cause)
	c.releaseAll(s.pid)
	c.stats.LostSpaces++
}

// Release frees every frame owned by a process and returns how many frames
// were freed. Frames of other processes are not touched.
func (c *CoreMap) Release(pid vm.PID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.releaseAll(pid)
}

func (c *CoreMap) releaseAll(pid vm.PID) int {
	owned := c.frames.OwnedBy(pid)

	space := c.spaces[pid]
	for _, frame := range owned {
		if space != nil {
			f := c.frames.Get(frame)
			space.pageTable[f.VirtualPage].Valid = false
		}

		if c.tlb != nil {
			c.tlb.InvalidateFrame(frame)
		}

		c.release(frame)
	}

	return len(owned)
}

func (c *CoreMap) release(frame int) {
	c.frames.Clear(frame)
	c.victims.Released(frame)
}

// Touch records an access to a frame. The owner's page table entry gets its
// use bit, and its dirty bit if write is set.
func (c *CoreMap) Touch(frame int, write bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if frame < 0 || frame >= c.frames.NumFrames() {
		return
	}

	f := c.frames.Get(frame)
	if f.Free() {
		return
	}

	c.frames.Touch(frame, write)
	c.victims.Accessed(frame)

	if space, ok := c.spaces[f.Owner]; ok {
		entry := &space.pageTable[f.VirtualPage]
		entry.Use = true
		entry.Dirty = entry.Dirty || write
	}
}

// Func lets the CoreMap follow the memory accesses of a machine.
func (c *CoreMap) Func(ctx sim.HookCtx) {
	if ctx.Pos != vm.HookPosMemAccess {
		return
	}

	access := ctx.Item.(vm.MemAccess)
	c.Touch(access.Frame, access.Write)
}

// FrameData returns the bytes of a frame. The slice aliases main memory.
func (c *CoreMap) FrameData(frame int) []byte {
	c.frames.frameMustExist(frame)

	return c.memory[frame*c.pageSize : (frame+1)*c.pageSize]
}

// BuildAddressSpace creates the address space of a process from its
// executable. Without demand loading, every page is loaded right away.
func (c *CoreMap) BuildAddressSpace(
	pid vm.PID,
	exe vm.Executable,
) (*AddressSpace, error) {
	c.mu.Lock()

	if _, exists := c.spaces[pid]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("process %d already has an address space", pid)
	}

	s := newAddressSpace(c, pid, exe)
	c.spaces[pid] = s

	if c.demandLoading {
		c.mu.Unlock()
		return s, nil
	}

	for vpn := range s.pageTable {
		_, err := s.loadPage(vm.VPN(vpn))
		if err != nil {
			c.mu.Unlock()

			destroyErr := s.Destroy()
			if destroyErr != nil {
				log.Printf("%s: %v", c.name, destroyErr)
			}

			return nil, err
		}
	}

	c.mu.Unlock()

	return s, nil
}

// AddressSpace returns the live address space of a process.
func (c *CoreMap) AddressSpace(pid vm.PID) (*AddressSpace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.spaces[pid]

	return s, ok
}

