package pagefault

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/mem/vm/paging"
	"github.com/ignaciolitma/nachOS/mem/vm/replacement"
	"github.com/ignaciolitma/nachOS/mem/vm/tlb"
)

type textExecutable struct {
	*bytes.Reader
	readOnly int64
}

func (e textExecutable) ReadOnlySize() int64 {
	return e.readOnly
}

var _ = Describe("Controller with a CoreMap", func() {
	var (
		buffer  *tlb.TLB
		coreMap *paging.CoreMap
		space   *paging.AddressSpace
		c       *Controller
	)

	BeforeEach(func() {
		buffer = tlb.New(2, replacement.FIFO)
		coreMap = paging.MakeBuilder().
			WithNumFrames(4).
			WithPageSize(16).
			WithStackSize(0).
			WithSwapFs(afero.NewMemMapFs()).
			WithTranslationCache(buffer).
			Build("CoreMap")
		c = MakeBuilder().WithPageSize(16).WithTLB(buffer).Build("PageFaultHandler")

		var err error
		space, err = coreMap.BuildAddressSpace(1, textExecutable{
			Reader:   bytes.NewReader(make([]byte, 6*16)),
			readOnly: 16,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should evict the oldest frames under FIFO", func() {
		for vpn := uint64(0); vpn < 6; vpn++ {
			f := c.HandlePageFault(space, vpn*16)
			Expect(f.State).To(Equal(Installed))
		}

		table := space.PageTable()
		Expect(table[0].Valid).To(BeFalse())
		Expect(table[1].Valid).To(BeFalse())
		Expect(coreMap.FreeCount()).To(Equal(0))

		_, _, found := buffer.Lookup(5)
		Expect(found).To(BeTrue())
		_, _, found = buffer.Lookup(0)
		Expect(found).To(BeFalse())
	})

	It("should keep the dirty bit of a replaced TLB entry", func() {
		f := c.HandlePageFault(space, 1*16)
		buffer.Access(f.Slot, true)
		c.HandlePageFault(space, 2*16)

		c.HandlePageFault(space, 3*16)

		entry, _ := space.Entry(1)
		Expect(entry.Valid).To(BeTrue())
		Expect(entry.Dirty).To(BeTrue())
	})

	It("should not load a page again on a read-only fault", func() {
		c.HandlePageFault(space, 0)
		loads := coreMap.Stats().ExecLoads

		f := c.Handle(space, vm.ReadOnlyException, 4)

		Expect(f.Terminated()).To(BeTrue())
		Expect(coreMap.Stats().ExecLoads).To(Equal(loads))
	})
})
