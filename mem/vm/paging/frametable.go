// Package paging manages physical memory on behalf of the user processes. It
// allocates frames, evicts them under pressure, and keeps the page table and
// swap area of every address space.
package paging

import (
	"log"

	"github.com/bits-and-blooms/bitset"

	"github.com/ignaciolitma/nachOS/mem/vm"
)

// A Frame describes a physical frame.
type Frame struct {
	Index       int
	Owner       vm.PID
	VirtualPage vm.VPN
	Use         bool
	Dirty       bool
}

// Free tells if the frame is not owned by any process.
func (f Frame) Free() bool {
	return f.Owner == vm.NoPID
}

// FrameTable is a fixed-size array of frame descriptors backed by a
// free/used bitmap. It is not safe for concurrent use.
type FrameTable struct {
	frames []Frame
	used   *bitset.BitSet
}

// NewFrameTable creates a table of numFrames free frames.
func NewFrameTable(numFrames int) *FrameTable {
	if numFrames <= 0 {
		log.Panicf("frame table needs at least one frame, got %d", numFrames)
	}

	t := &FrameTable{
		frames: make([]Frame, numFrames),
		used:   bitset.New(uint(numFrames)),
	}

	for i := range t.frames {
		t.frames[i] = Frame{Index: i, Owner: vm.NoPID}
	}

	return t
}

// NumFrames returns the capacity of the table.
func (t *FrameTable) NumFrames() int {
	return len(t.frames)
}

// NumFree returns the number of frames that are not owned.
func (t *FrameTable) NumFree() int {
	return len(t.frames) - int(t.used.Count())
}

// FindFree returns the lowest free frame.
func (t *FrameTable) FindFree() (int, bool) {
	i, ok := t.used.NextClear(0)
	if !ok || int(i) >= len(t.frames) {
		return 0, false
	}

	return int(i), true
}

// Book gives a free frame to a (process, virtual page) pair.
func (t *FrameTable) Book(index int, owner vm.PID, vpn vm.VPN) {
	t.frameMustExist(index)

	if t.used.Test(uint(index)) {
		f := t.frames[index]
		log.Panicf("frame %d is owned by process %d page %d, "+
			"cannot give it to process %d page %d",
			index, f.Owner, f.VirtualPage, owner, vpn)
	}

	t.used.Set(uint(index))
	t.frames[index] = Frame{
		Index:       index,
		Owner:       owner,
		VirtualPage: vpn,
	}
}

// Clear marks a frame free.
func (t *FrameTable) Clear(index int) {
	t.frameMustExist(index)

	t.used.Clear(uint(index))
	t.frames[index] = Frame{Index: index, Owner: vm.NoPID}
}

// Get returns the descriptor of a frame.
func (t *FrameTable) Get(index int) Frame {
	t.frameMustExist(index)

	return t.frames[index]
}

// Touch sets the use bit of an owned frame, and the dirty bit if the access
// is a write.
func (t *FrameTable) Touch(index int, write bool) {
	t.frameMustExist(index)

	if !t.used.Test(uint(index)) {
		return
	}

	t.frames[index].Use = true
	if write {
		t.frames[index].Dirty = true
	}
}

// OwnedBy returns the frames owned by a process, in index order.
func (t *FrameTable) OwnedBy(pid vm.PID) []int {
	var owned []int

	for i, f := range t.frames {
		if t.used.Test(uint(i)) && f.Owner == pid {
			owned = append(owned, i)
		}
	}

	return owned
}

// Snapshot returns a copy of all the frame descriptors.
func (t *FrameTable) Snapshot() []Frame {
	return append([]Frame(nil), t.frames...)
}

func (t *FrameTable) frameMustExist(index int) {
	if index < 0 || index >= len(t.frames) {
		log.Panicf("frame %d does not exist", index)
	}
}
