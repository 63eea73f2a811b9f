package vm

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ExceptionOf", func() {
	It("should map sentinel errors to exception codes", func() {
		wrapped := fmt.Errorf("vpn 12: %w", ErrAddressOutOfRange)

		Expect(ExceptionOf(nil)).To(Equal(NoException))
		Expect(ExceptionOf(wrapped)).To(Equal(AddressErrorException))
		Expect(ExceptionOf(ErrReadOnly)).To(Equal(ReadOnlyException))
		Expect(ExceptionOf(ErrSwapIO)).To(Equal(IOErrorException))
		Expect(ExceptionOf(ErrExecutableIO)).To(Equal(IOErrorException))
	})

	It("should prefer the code carried by a fault error", func() {
		err := &FaultError{
			PID:       3,
			VAddr:     0x80,
			Exception: BusErrorException,
			Err:       errors.New("boom"),
		}

		Expect(ExceptionOf(fmt.Errorf("outer: %w", err))).
			To(Equal(BusErrorException))
		Expect(err.Error()).To(ContainSubstring("BusErrorException"))
	})

	It("should name out of range exceptions", func() {
		Expect(ExceptionType(42).String()).To(Equal("ExceptionType(42)"))
		Expect(ReadOnlyException.String()).To(Equal("ReadOnlyException"))
	})
})

var _ = Describe("PageTableEntry", func() {
	It("should tell when the content is on swap", func() {
		e := PageTableEntry{Loaded: true, SwapSlot: 2}
		Expect(e.OnSwap()).To(BeTrue())

		e.Valid = true
		Expect(e.OnSwap()).To(BeFalse())

		e = PageTableEntry{Loaded: true, SwapSlot: NoSwapSlot}
		Expect(e.OnSwap()).To(BeFalse())
	})

	It("should convert to a TLB entry", func() {
		e := PageTableEntry{
			VirtualPage:  4,
			PhysicalPage: 2,
			Valid:        true,
			ReadOnly:     true,
			Dirty:        true,
		}

		Expect(e.TLBEntry()).To(Equal(TLBEntry{
			VirtualPage:  4,
			PhysicalPage: 2,
			Valid:        true,
			ReadOnly:     true,
			Dirty:        true,
		}))
	})
})
