package paging

import (
	"log"

	"github.com/spf13/afero"

	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/mem/vm/replacement"
)

// A Builder can build CoreMaps.
type Builder struct {
	numFrames     int
	pageSize      int
	stackSize     int
	policy        replacement.Policy
	memory        []byte
	swapFs        afero.Fs
	demandLoading bool
	tlb           TranslationCache
}

// MakeBuilder creates a builder with the default configuration: 32 frames of
// 128 bytes, 1024 bytes of stack, FIFO replacement, demand loading, and swap
// files kept in memory.
func MakeBuilder() Builder {
	return Builder{
		numFrames:     32,
		pageSize:      128,
		stackSize:     1024,
		policy:        replacement.FIFO,
		demandLoading: true,
	}
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

// WithStackSize sets the number of bytes added after the executable image of
// every address space.
func (b Builder) WithStackSize(n int) Builder {
	b.stackSize = n
	return b
}

// WithPolicy sets the frame replacement policy.
func (b Builder) WithPolicy(p replacement.Policy) Builder {
	b.policy = p
	return b
}

// WithMainMemory sets the memory that the frames live in. Its length must be
// the number of frames times the page size.
func (b Builder) WithMainMemory(memory []byte) Builder {
	b.memory = memory
	return b
}

// WithSwapFs sets the file system that holds the swap files.
func (b Builder) WithSwapFs(fs afero.Fs) Builder {
	b.swapFs = fs
	return b
}

// WithDemandLoading enables or disables demand loading. Without it, every
// page is loaded when the address space is built.
func (b Builder) WithDemandLoading(enabled bool) Builder {
	b.demandLoading = enabled
	return b
}

// WithTranslationCache sets the translation cache that must forget a frame
// before it is evicted.
func (b Builder) WithTranslationCache(c TranslationCache) Builder {
	b.tlb = c
	return b
}

// Build creates a CoreMap.
func (b Builder) Build(name string) *CoreMap {
	b.parametersMustBeValid()

	c := &CoreMap{
		name:          name,
		pageSize:      b.pageSize,
		stackSize:     b.stackSize,
		policy:        b.policy,
		demandLoading: b.demandLoading,
		tlb:           b.tlb,
		frames:        NewFrameTable(b.numFrames),
		victims:       replacement.NewVictimFinder(b.policy, b.numFrames),
		spaces:        make(map[vm.PID]*AddressSpace),
	}

	c.memory = b.memory
	if c.memory == nil {
		c.memory = make([]byte, b.numFrames*b.pageSize)
	}

	c.swapFs = b.swapFs
	if c.swapFs == nil {
		c.swapFs = afero.NewMemMapFs()
	}

	return c
}

func (b Builder) parametersMustBeValid() {
	if b.numFrames <= 0 {
		log.Panicf("number of frames must be positive, got %d", b.numFrames)
	}

	if b.pageSize <= 0 {
		log.Panicf("page size must be positive, got %d", b.pageSize)
	}

	if b.stackSize < 0 {
		log.Panicf("stack size must not be negative, got %d", b.stackSize)
	}

	if b.memory != nil && len(b.memory) != b.numFrames*b.pageSize {
		log.Panicf("main memory has %d bytes, %d frames of %d bytes need %d",
			len(b.memory), b.numFrames, b.pageSize, b.numFrames*b.pageSize)
	}
}
