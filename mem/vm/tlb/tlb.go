// Package tlb provides the hardware translation buffer. It caches the page
// table entries of the running process in a fixed number of slots.
package tlb

import (
	"log"
	"sync"

	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/mem/vm/replacement"
)

// A TLB is a fully associative translation buffer. Entries carry no process
// ID, so the buffer must be flushed when another process starts running.
type TLB struct {
	mu      sync.Mutex
	entries []vm.TLBEntry
	vpnSlot map[vm.VPN]int
	victims replacement.VictimFinder

	hits   uint64
	misses uint64
}

// New creates a TLB with size slots. Slots are given up following policy
// when all of them hold a valid entry.
func New(size int, policy replacement.Policy) *TLB {
	if size <= 0 {
		log.Panicf("TLB needs at least one slot, got %d", size)
	}

	return &TLB{
		entries: make([]vm.TLBEntry, size),
		vpnSlot: make(map[vm.VPN]int),
		victims: replacement.NewVictimFinder(policy, size),
	}
}

// Size returns the number of slots.
func (t *TLB) Size() int {
	return len(t.entries)
}

// Read returns the entry of a slot.
func (t *TLB) Read(slot int) vm.TLBEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slotMustExist(slot)

	return t.entries[slot]
}

// Install writes an entry into a slot. A valid entry of another slot that
// maps the same page is invalidated.
func (t *TLB) Install(slot int, e vm.TLBEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slotMustExist(slot)

	t.invalidate(slot)

	if !e.Valid {
		return
	}

	if other, ok := t.vpnSlot[e.VirtualPage]; ok {
		t.invalidate(other)
	}

	t.entries[slot] = e
	t.vpnSlot[e.VirtualPage] = slot
	t.victims.Allocated(slot)
}

// NextSlot returns the slot that the next entry should go to: the first
// invalid slot, or the victim of the replacement policy.
func (t *TLB) NextSlot() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if !e.Valid {
			return i
		}
	}

	slot, ok := t.victims.FindVictim()
	if !ok {
		log.Panic("TLB is full but has no victim")
	}

	return slot
}

// Lookup finds the valid entry that maps a page.
func (t *TLB) Lookup(vpn vm.VPN) (int, vm.TLBEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.vpnSlot[vpn]
	if !ok {
		t.misses++
		return -1, vm.TLBEntry{}, false
	}

	t.hits++

	return slot, t.entries[slot], true
}

// Access sets the use bit of a slot, and its dirty bit for a write.
func (t *TLB) Access(slot int, write bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slotMustExist(slot)

	e := &t.entries[slot]
	if !e.Valid {
		return
	}

	e.Use = true
	if write {
		e.Dirty = true
	}

	t.victims.Accessed(slot)
}

// InvalidateFrame drops the valid entry that maps a frame and returns it.
func (t *TLB) InvalidateFrame(frame int) (vm.TLBEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if e.Valid && e.PhysicalPage == frame {
			t.invalidate(i)
			return e, true
		}
	}

	return vm.TLBEntry{}, false
}

// Flush invalidates every slot and returns the entries that were valid, so
// that their bits can be saved in the page table.
func (t *TLB) Flush() []vm.TLBEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var valid []vm.TLBEntry

	for i, e := range t.entries {
		if e.Valid {
			valid = append(valid, e)
			t.invalidate(i)
		}
	}

	return valid
}

// Hits returns the number of lookups that found an entry.
func (t *TLB) Hits() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.hits
}

// Misses returns the number of lookups that found no entry.
func (t *TLB) Misses() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.misses
}

func (t *TLB) invalidate(slot int) {
	e := t.entries[slot]
	if !e.Valid {
		return
	}

	delete(t.vpnSlot, e.VirtualPage)
	t.entries[slot] = vm.TLBEntry{}
	t.victims.Released(slot)
}

func (t *TLB) slotMustExist(slot int) {
	if slot < 0 || slot >= len(t.entries) {
		log.Panicf("TLB slot %d does not exist", slot)
	}
}
