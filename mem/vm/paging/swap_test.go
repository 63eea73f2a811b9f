package paging

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/ignaciolitma/nachOS/mem/vm"
)

var _ = Describe("SwapStore", func() {
	var (
		fs   afero.Fs
		swap *SwapStore
	)

	BeforeEach(func() {
		fs = afero.NewMemMapFs()
		swap = NewSwapStore(fs, SwapFileName(3), 8)
	})

	It("should create the file on the first write", func() {
		Expect(swap.Name()).To(Equal("SWAP.3"))
		Expect(swap.Created()).To(BeFalse())
		exists, _ := afero.Exists(fs, "SWAP.3")
		Expect(exists).To(BeFalse())

		_, err := swap.WriteToSwap(0, make([]byte, 8))

		Expect(err).NotTo(HaveOccurred())
		Expect(swap.Created()).To(BeTrue())
		exists, _ = afero.Exists(fs, "SWAP.3")
		Expect(exists).To(BeTrue())
	})

	It("should read back what was written", func() {
		pages := map[vm.VPN][]byte{
			4: []byte("abcdefgh"),
			0: []byte("01234567"),
			9: bytes.Repeat([]byte{0xff}, 8),
		}

		for vpn, data := range pages {
			_, err := swap.WriteToSwap(vpn, data)
			Expect(err).NotTo(HaveOccurred())
		}

		for vpn, data := range pages {
			buf := make([]byte, 8)
			Expect(swap.ReadFromSwap(vpn, buf)).To(Succeed())
			Expect(buf).To(Equal(data))
		}
	})

	It("should reuse the slot of a page", func() {
		first, _ := swap.WriteToSwap(5, []byte("aaaaaaaa"))
		other, _ := swap.WriteToSwap(6, []byte("bbbbbbbb"))
		again, _ := swap.WriteToSwap(5, []byte("cccccccc"))

		Expect(first).To(Equal(0))
		Expect(other).To(Equal(1))
		Expect(again).To(Equal(first))
		Expect(swap.NumSlots()).To(Equal(2))

		buf := make([]byte, 8)
		Expect(swap.ReadFromSwap(5, buf)).To(Succeed())
		Expect(string(buf)).To(Equal("cccccccc"))

		info, err := fs.Stat("SWAP.3")
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Size()).To(Equal(int64(16)))
	})

	It("should panic when reading a page that was never written", func() {
		Expect(func() { _ = swap.ReadFromSwap(1, make([]byte, 8)) }).To(Panic())
	})

	It("should panic on a buffer of the wrong size", func() {
		Expect(func() { _, _ = swap.WriteToSwap(1, make([]byte, 7)) }).To(Panic())
	})

	It("should remove the file", func() {
		_, _ = swap.WriteToSwap(1, make([]byte, 8))

		Expect(swap.Remove()).To(Succeed())

		exists, _ := afero.Exists(fs, "SWAP.3")
		Expect(exists).To(BeFalse())
		Expect(swap.NumSlots()).To(Equal(0))
		_, ok := swap.Slot(1)
		Expect(ok).To(BeFalse())
	})

	It("should report a file system that refuses writes", func() {
		swap = NewSwapStore(afero.NewReadOnlyFs(fs), "SWAP.3", 8)

		_, err := swap.WriteToSwap(1, make([]byte, 8))

		Expect(err).To(MatchError(vm.ErrSwapIO))
	})
})
