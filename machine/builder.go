package machine

import (
	"log"

	"github.com/ignaciolitma/nachOS/mem/vm/replacement"
	"github.com/ignaciolitma/nachOS/mem/vm/tlb"
	"github.com/ignaciolitma/nachOS/sim"
)

// A Builder can build Machines.
type Builder struct {
	memory     []byte
	numFrames  int
	pageSize   int
	tlb        *tlb.TLB
	clock      *sim.Clock
	handler    ExceptionHandler
	maxRetries int
}

// MakeBuilder creates a builder for a machine with 32 frames of 128 bytes
// and a 4-entry FIFO TLB.
func MakeBuilder() Builder {
	return Builder{
		numFrames:  32,
		pageSize:   128,
		maxRetries: 3,
	}
}

// WithMainMemory sets the main memory. It takes precedence over
// WithNumFrames.
func (b Builder) WithMainMemory(memory []byte) Builder {
	b.memory = memory
	return b
}

// WithNumFrames sets the number of frames of a main memory created by the
// builder.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithPageSize sets the number of bytes in a page.
func (b Builder) WithPageSize(n int) Builder {
	b.pageSize = n
	return b
}

// WithTLB sets the translation buffer.
func (b Builder) WithTLB(t *tlb.TLB) Builder {
	b.tlb = t
	return b
}

// WithClock sets the clock that the machine advances.
func (b Builder) WithClock(c *sim.Clock) Builder {
	b.clock = c
	return b
}

// WithExceptionHandler sets the kernel entry point.
func (b Builder) WithExceptionHandler(h ExceptionHandler) Builder {
	b.handler = h
	return b
}

// WithMaxRetries sets how many times an access is retried after the kernel
// resolved its exception.
func (b Builder) WithMaxRetries(n int) Builder {
	b.maxRetries = n
	return b
}

// Build creates a Machine.
func (b Builder) Build(name string) *Machine {
	if b.pageSize <= 0 {
		log.Panicf("page size must be positive, got %d", b.pageSize)
	}

	m := &Machine{
		NamedBase:  sim.MakeNamedBase(name),
		memory:     b.memory,
		pageSize:   b.pageSize,
		tlb:        b.tlb,
		clock:      b.clock,
		handler:    b.handler,
		maxRetries: b.maxRetries,
	}

	if m.memory == nil {
		m.memory = make([]byte, b.numFrames*b.pageSize)
	}

	if m.tlb == nil {
		m.tlb = tlb.New(4, replacement.FIFO)
	}

	if m.clock == nil {
		m.clock = &sim.Clock{}
	}

	return m
}
