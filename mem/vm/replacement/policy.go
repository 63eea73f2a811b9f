// Package replacement provides the policies that decide which frame or TLB
// slot is given up when all of them are in use.
package replacement

import (
	"fmt"
	"strings"
)

// Policy selects a victim finder.
type Policy int

// The supported policies.
const (
	FIFO Policy = iota
	LRU
)

func (p Policy) String() string {
	switch p {
	case FIFO:
		return "fifo"
	case LRU:
		return "lru"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a policy name (case insensitive) into a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fifo":
		return FIFO, nil
	case "lru":
		return LRU, nil
	default:
		return FIFO, fmt.Errorf("unknown replacement policy %q", name)
	}
}

// A VictimFinder decides which slot should be evicted. Slots are numbered from
// 0 and are either free or owned.
type VictimFinder interface {
	// Allocated marks a slot as owned and freshly used.
	Allocated(slot int)

	// Accessed records a reference to an owned slot.
	Accessed(slot int)

	// Released marks a slot as free.
	Released(slot int)

	// FindVictim returns the owned slot to evict. It returns false if no
	// slot is owned.
	FindVictim() (slot int, ok bool)
}

// NewVictimFinder creates the victim finder of a policy for a number of
// slots.
func NewVictimFinder(p Policy, numSlots int) VictimFinder {
	switch p {
	case FIFO:
		return NewFIFOVictimFinder()
	case LRU:
		return NewLRUVictimFinder(numSlots)
	default:
		panic(fmt.Sprintf("unsupported replacement policy %s", p))
	}
}
