package replacement

import "container/list"

// FIFOVictimFinder evicts the slot that was allocated the earliest,
// regardless of how it was used after the allocation.
type FIFOVictimFinder struct {
	queue *list.List
	elems map[int]*list.Element
}

// NewFIFOVictimFinder returns a newly constructed FIFO victim finder.
func NewFIFOVictimFinder() *FIFOVictimFinder {
	return &FIFOVictimFinder{
		queue: list.New(),
		elems: make(map[int]*list.Element),
	}
}

// Allocated moves the slot to the back of the allocation queue.
func (f *FIFOVictimFinder) Allocated(slot int) {
	f.Released(slot)
	f.elems[slot] = f.queue.PushBack(slot)
}

// Accessed does nothing. FIFO does not care about references.
func (f *FIFOVictimFinder) Accessed(int) {}

// Released removes the slot from the allocation queue.
func (f *FIFOVictimFinder) Released(slot int) {
	elem, found := f.elems[slot]
	if !found {
		return
	}

	f.queue.Remove(elem)
	delete(f.elems, slot)
}

// FindVictim returns the least recently allocated slot.
func (f *FIFOVictimFinder) FindVictim() (int, bool) {
	front := f.queue.Front()
	if front == nil {
		return 0, false
	}

	return front.Value.(int), true
}
