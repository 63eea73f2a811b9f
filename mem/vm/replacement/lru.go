package replacement

// LRUVictimFinder approximates least-recently-used replacement with one
// recency counter per slot. Accessing a slot resets its counter and ages
// every other owned slot by one.
type LRUVictimFinder struct {
	counters []uint64
	owned    []bool
}

// NewLRUVictimFinder returns an LRU victim finder for numSlots slots.
func NewLRUVictimFinder(numSlots int) *LRUVictimFinder {
	return &LRUVictimFinder{
		counters: make([]uint64, numSlots),
		owned:    make([]bool, numSlots),
	}
}

// Allocated marks the slot as owned and as the most recently used one.
func (l *LRUVictimFinder) Allocated(slot int) {
	l.owned[slot] = true
	l.Accessed(slot)
}

// Accessed resets the counter of the slot and ages the other owned slots.
func (l *LRUVictimFinder) Accessed(slot int) {
	if !l.owned[slot] {
		return
	}

	for i := range l.counters {
		if l.owned[i] && i != slot {
			l.counters[i]++
		}
	}

	l.counters[slot] = 0
}

// Released forgets the slot.
func (l *LRUVictimFinder) Released(slot int) {
	l.owned[slot] = false
	l.counters[slot] = 0
}

// FindVictim returns the owned slot with the largest counter. Ties go to the
// lowest index.
func (l *LRUVictimFinder) FindVictim() (int, bool) {
	victim, found := 0, false

	for i, owned := range l.owned {
		if !owned {
			continue
		}

		if !found || l.counters[i] > l.counters[victim] {
			victim, found = i, true
		}
	}

	return victim, found
}

// Counter returns the recency counter of a slot.
func (l *LRUVictimFinder) Counter(slot int) uint64 {
	return l.counters[slot]
}
