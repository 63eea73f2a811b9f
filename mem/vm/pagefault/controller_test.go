package pagefault

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/ignaciolitma/nachOS/mem/vm"
)

var _ = Describe("Controller", func() {
	var (
		mockCtrl *gomock.Controller
		space    *MockSpace
		tlb      *MockTranslationBuffer
		c        *Controller
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		space = NewMockSpace(mockCtrl)
		tlb = NewMockTranslationBuffer(mockCtrl)
		c = MakeBuilder().WithPageSize(16).WithTLB(tlb).Build("PageFaultHandler")

		space.EXPECT().PID().Return(vm.PID(3)).AnyTimes()
		space.EXPECT().NumPages().Return(4).AnyTimes()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should panic without a TLB", func() {
		Expect(func() { MakeBuilder().Build("PageFaultHandler") }).To(Panic())
	})

	It("should load a missing page and install it", func() {
		loaded := vm.PageTableEntry{
			VirtualPage:  2,
			PhysicalPage: 5,
			Valid:        true,
			Loaded:       true,
			SwapSlot:     vm.NoSwapSlot,
		}
		tlb.EXPECT().NextSlot().Return(1)
		tlb.EXPECT().Read(1).Return(vm.TLBEntry{})
		space.EXPECT().Entry(vm.VPN(2)).Return(vm.PageTableEntry{VirtualPage: 2}, true)
		space.EXPECT().LoadPage(vm.VPN(2)).Return(loaded, nil)
		tlb.EXPECT().Install(1, vm.TLBEntry{
			VirtualPage:  2,
			PhysicalPage: 5,
			Valid:        true,
		})

		f := c.HandlePageFault(space, 0x25)

		Expect(f.State).To(Equal(Installed))
		Expect(f.History).To(Equal([]State{Running, Trapped, Resolving, Installed}))
		Expect(f.Retry()).To(BeTrue())
		Expect(f.PID).To(Equal(vm.PID(3)))
		Expect(f.VPN).To(Equal(vm.VPN(2)))
		Expect(f.Slot).To(Equal(1))
		Expect(f.Err).NotTo(HaveOccurred())
		Expect(c.Stats().DemandLoads).To(Equal(uint64(1)))
	})

	It("should write the replaced entry back before installing", func() {
		old := vm.TLBEntry{VirtualPage: 0, PhysicalPage: 1, Valid: true, Dirty: true}
		resident := vm.PageTableEntry{VirtualPage: 3, PhysicalPage: 2, Valid: true}

		gomock.InOrder(
			tlb.EXPECT().NextSlot().Return(0),
			tlb.EXPECT().Read(0).Return(old),
			space.EXPECT().UpdateFromTLB(old),
			space.EXPECT().Entry(vm.VPN(3)).Return(resident, true),
			tlb.EXPECT().Install(0, resident.TLBEntry()),
		)

		f := c.Handle(space, vm.PageFaultException, 0x30)

		Expect(f.State).To(Equal(Installed))
		Expect(f.Entry).To(Equal(resident))
		Expect(c.Stats().TableHits).To(Equal(uint64(1)))
	})

	It("should terminate on an address out of range", func() {
		f := c.HandlePageFault(space, 4*16)

		Expect(f.State).To(Equal(ProcessTerminated))
		Expect(f.History).To(Equal([]State{Running, Trapped, ProcessTerminated}))
		Expect(f.Exception).To(Equal(vm.AddressErrorException))
		Expect(f.Err).To(MatchError(vm.ErrAddressOutOfRange))
		Expect(vm.ExceptionOf(f.Err)).To(Equal(vm.AddressErrorException))
	})

	It("should terminate on page numbers past the signed range", func() {
		c = MakeBuilder().WithPageSize(1).WithTLB(tlb).Build("PageFaultHandler")

		f := c.HandlePageFault(space, 1<<63)

		Expect(f.VPN).To(Equal(vm.VPN(1) << 63))
		Expect(f.State).To(Equal(ProcessTerminated))
		Expect(f.Exception).To(Equal(vm.AddressErrorException))
		Expect(f.Err).To(MatchError(vm.ErrAddressOutOfRange))
	})

	It("should terminate when the page cannot be loaded", func() {
		tlb.EXPECT().NextSlot().Return(0)
		tlb.EXPECT().Read(0).Return(vm.TLBEntry{})
		space.EXPECT().Entry(vm.VPN(1)).Return(vm.PageTableEntry{VirtualPage: 1}, true)
		space.EXPECT().LoadPage(vm.VPN(1)).Return(vm.PageTableEntry{},
			fmt.Errorf("%w: broken disk", vm.ErrSwapIO))

		f := c.HandlePageFault(space, 0x10)

		Expect(f.Terminated()).To(BeTrue())
		Expect(f.Retry()).To(BeFalse())
		Expect(f.History).To(Equal(
			[]State{Running, Trapped, Resolving, ProcessTerminated}))
		Expect(f.Exception).To(Equal(vm.IOErrorException))

		var faultErr *vm.FaultError
		Expect(errors.As(f.Err, &faultErr)).To(BeTrue())
		Expect(faultErr.PID).To(Equal(vm.PID(3)))
		Expect(faultErr.VAddr).To(Equal(uint64(0x10)))
	})

	It("should terminate on a read-only fault without loading", func() {
		f := c.Handle(space, vm.ReadOnlyException, 0x8)

		Expect(f.State).To(Equal(ProcessTerminated))
		Expect(f.Retry()).To(BeFalse())
		Expect(f.History).To(Equal([]State{Running, Trapped, ProcessTerminated}))
		Expect(f.Exception).To(Equal(vm.ReadOnlyException))
		Expect(f.Err).To(MatchError(vm.ErrReadOnly))
		Expect(c.Stats().ReadOnlyFaults).To(Equal(uint64(1)))
		Expect(c.Stats().Terminations).To(Equal(uint64(1)))
	})

	It("should terminate on exceptions it cannot resolve", func() {
		f := c.Handle(space, vm.BusErrorException, 0x8)

		Expect(f.State).To(Equal(ProcessTerminated))
		Expect(f.Exception).To(Equal(vm.BusErrorException))
	})
})

var _ = Describe("State", func() {
	It("should tell terminal states", func() {
		Expect(Running.IsTerminal()).To(BeFalse())
		Expect(Trapped.IsTerminal()).To(BeFalse())
		Expect(Resolving.IsTerminal()).To(BeFalse())
		Expect(Installed.IsTerminal()).To(BeTrue())
		Expect(ProcessTerminated.IsTerminal()).To(BeTrue())
	})

	It("should print names", func() {
		Expect(Resolving.String()).To(Equal("Resolving"))
		Expect(State(9).String()).To(Equal("State(9)"))
	})
})
