package exe

import (
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/ignaciolitma/nachOS/mem/vm"
)

var _ = Describe("File", func() {
	var fs afero.Fs

	BeforeEach(func() {
		fs = afero.NewMemMapFs()
		Expect(Write(fs, "halt", []byte("texttext"), []byte("data"))).To(Succeed())
	})

	It("should read the header", func() {
		f, err := Open(fs, "halt")
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		var _ vm.Executable = f
		Expect(f.Name()).To(Equal("halt"))
		Expect(f.Header()).To(Equal(Header{Magic: Magic, TextSize: 8, DataSize: 4}))
		Expect(f.Size()).To(Equal(int64(12)))
		Expect(f.ReadOnlySize()).To(Equal(int64(8)))
	})

	It("should read in image coordinates", func() {
		f, _ := Open(fs, "halt")
		defer f.Close()

		buf := make([]byte, 6)
		n, err := f.ReadAt(buf, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(6))
		Expect(string(buf)).To(Equal("textda"))

		n, err = f.ReadAt(buf, 10)
		Expect(err).To(Equal(io.EOF))
		Expect(n).To(Equal(2))
		Expect(string(buf[:n])).To(Equal("ta"))

		_, err = f.ReadAt(buf, 12)
		Expect(err).To(Equal(io.EOF))
	})

	It("should reject files without the magic number", func() {
		Expect(afero.WriteFile(fs, "text.txt", []byte("hello, world"), 0o644)).
			To(Succeed())

		_, err := Open(fs, "text.txt")

		Expect(err).To(MatchError(ErrNotExecutable))
	})

	It("should reject truncated images", func() {
		data, _ := afero.ReadFile(fs, "halt")
		Expect(afero.WriteFile(fs, "short", data[:len(data)-1], 0o644)).
			To(Succeed())

		_, err := Open(fs, "short")

		Expect(err).To(MatchError(ErrNotExecutable))
	})

	It("should report a missing file", func() {
		_, err := Open(fs, "nothing")

		Expect(err).To(HaveOccurred())
	})
})
