package kernel

import (
	"github.com/spf13/afero"

	"github.com/ignaciolitma/nachOS/machine"
	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/mem/vm/pagefault"
	"github.com/ignaciolitma/nachOS/mem/vm/paging"
	"github.com/ignaciolitma/nachOS/mem/vm/replacement"
	"github.com/ignaciolitma/nachOS/mem/vm/tlb"
	"github.com/ignaciolitma/nachOS/sim"
	"github.com/ignaciolitma/nachOS/tracing"
)

// A Builder can build Kernels.
type Builder struct {
	fs            afero.Fs
	swapFs        afero.Fs
	numFrames     int
	pageSize      int
	tlbSize       int
	policy        replacement.Policy
	tlbPolicy     replacement.Policy
	stackSize     int
	demandLoading bool
	quantum       int
	clock         *sim.Clock
	tracers       []tracing.Tracer
}

// MakeBuilder creates a builder with the classic configuration: 32 frames of
// 128 bytes, a 4-entry TLB, FIFO replacement, 1024 bytes of stack, demand
// loading, and 10 accesses per time slice.
func MakeBuilder() Builder {
	return Builder{
		numFrames:     32,
		pageSize:      128,
		tlbSize:       4,
		policy:        replacement.FIFO,
		tlbPolicy:     replacement.FIFO,
		stackSize:     1024,
		demandLoading: true,
		quantum:       10,
	}
}

// WithFs sets the file system that holds the executables.
func (b Builder) WithFs(fs afero.Fs) Builder {
	b.fs = fs
	return b
}

// WithSwapFs sets the file system that holds the swap files. It defaults to
// the file system of the executables.
func (b Builder) WithSwapFs(fs afero.Fs) Builder {
	b.swapFs = fs
	return b
}

// WithNumFrames sets the number of physical frames.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithPageSize sets the number of bytes in a page.
func (b Builder) WithPageSize(n int) Builder {
	b.pageSize = n
	return b
}

// WithTLBSize sets the number of TLB slots.
func (b Builder) WithTLBSize(n int) Builder {
	b.tlbSize = n
	return b
}

// WithPolicy sets the frame replacement policy.
func (b Builder) WithPolicy(p replacement.Policy) Builder {
	b.policy = p
	return b
}

// WithTLBPolicy sets the TLB replacement policy.
func (b Builder) WithTLBPolicy(p replacement.Policy) Builder {
	b.tlbPolicy = p
	return b
}

// WithStackSize sets the stack size of every process.
func (b Builder) WithStackSize(n int) Builder {
	b.stackSize = n
	return b
}

// WithDemandLoading enables or disables demand loading.
func (b Builder) WithDemandLoading(enabled bool) Builder {
	b.demandLoading = enabled
	return b
}

// WithQuantum sets the number of accesses a process performs before another
// process gets the machine.
func (b Builder) WithQuantum(n int) Builder {
	b.quantum = n
	return b
}

// WithTracer adds a tracer that collects the tasks of the kernel, the frame
// allocator, and the page fault handler.
func (b Builder) WithTracer(t tracing.Tracer) Builder {
	b.tracers = append(append([]tracing.Tracer(nil), b.tracers...), t)
	return b
}

// WithClock sets the clock that the machine charges ticks to. Tracers that
// need a TimeTeller can be created from the same clock before the kernel is
// built.
func (b Builder) WithClock(c *sim.Clock) Builder {
	b.clock = c
	return b
}

// Build creates a Kernel.
func (b Builder) Build(name string) *Kernel {
	k := &Kernel{
		NamedBase: sim.MakeNamedBase(name),
		quantum:   b.quantum,
		processes: make(map[vm.PID]*Process),
		nextPID:   1,
	}
	if k.quantum <= 0 {
		k.quantum = 1
	}

	k.fs = b.fs
	if k.fs == nil {
		k.fs = afero.NewMemMapFs()
	}

	swapFs := b.swapFs
	if swapFs == nil {
		swapFs = k.fs
	}

	k.clock = b.clock
	if k.clock == nil {
		k.clock = &sim.Clock{}
	}

	k.tlb = tlb.New(b.tlbSize, b.tlbPolicy)
	memory := make([]byte, b.numFrames*b.pageSize)

	k.coreMap = paging.MakeBuilder().
		WithNumFrames(b.numFrames).
		WithPageSize(b.pageSize).
		WithStackSize(b.stackSize).
		WithPolicy(b.policy).
		WithMainMemory(memory).
		WithSwapFs(swapFs).
		WithDemandLoading(b.demandLoading).
		WithTranslationCache(k.tlb).
		Build(name + ".CoreMap")

	k.faults = pagefault.MakeBuilder().
		WithPageSize(b.pageSize).
		WithTLB(k.tlb).
		Build(name + ".PageFaultHandler")

	k.machine = machine.MakeBuilder().
		WithMainMemory(memory).
		WithPageSize(b.pageSize).
		WithTLB(k.tlb).
		WithClock(k.clock).
		WithExceptionHandler(k).
		Build(name + ".Machine")
	k.machine.AcceptHook(k.coreMap)

	for _, t := range b.tracers {
		tracing.CollectTrace(k, t)
		tracing.CollectTrace(k.coreMap, t)
		tracing.CollectTrace(k.faults, t)
	}

	return k
}
