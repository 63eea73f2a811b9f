package sim

import "sync/atomic"

// VTime is the simulated time, counted in ticks.
type VTime uint64

// Tick costs charged to the clock.
const (
	// UserTick is charged for every user-level memory access.
	UserTick VTime = 1

	// SystemTick is charged every time the kernel handles an exception.
	SystemTick VTime = 10
)

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTime
}

// A Clock is a monotonic tick counter. It is safe for concurrent use.
type Clock struct {
	ticks uint64
}

// CurrentTime returns the number of ticks elapsed.
func (c *Clock) CurrentTime() VTime {
	return VTime(atomic.LoadUint64(&c.ticks))
}

// Advance moves the clock forward and returns the new time.
func (c *Clock) Advance(d VTime) VTime {
	return VTime(atomic.AddUint64(&c.ticks, uint64(d)))
}
