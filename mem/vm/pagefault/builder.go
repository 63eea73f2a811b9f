package pagefault

import "log"

// A Builder can build Controllers.
type Builder struct {
	pageSize int
	tlb      TranslationBuffer
}

// MakeBuilder creates a builder with 128-byte pages.
func MakeBuilder() Builder {
	return Builder{
		pageSize: 128,
	}
}

// WithPageSize sets the number of bytes in a page.
func (b Builder) WithPageSize(n int) Builder {
	b.pageSize = n
	return b
}

// WithTLB sets the translation buffer that the controller refills.
func (b Builder) WithTLB(tlb TranslationBuffer) Builder {
	b.tlb = tlb
	return b
}

// Build creates a Controller.
func (b Builder) Build(name string) *Controller {
	if b.tlb == nil {
		log.Panic("page fault controller requires a TLB")
	}

	if b.pageSize <= 0 {
		log.Panicf("page size must be positive, got %d", b.pageSize)
	}

	return &Controller{
		name:     name,
		pageSize: b.pageSize,
		tlb:      b.tlb,
	}
}
