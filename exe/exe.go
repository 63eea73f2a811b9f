// Package exe reads and writes executable images. An image starts with a
// 12-byte little-endian header (magic number, text size, data size)
// followed by the text segment and then the data segment. The text segment
// is loaded at virtual address 0 and is read-only.
package exe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Magic identifies executable images.
const Magic uint32 = 0xbadfad

// HeaderSize is the number of bytes of the header.
const HeaderSize = 12

// ErrNotExecutable is returned when a file does not start with the magic
// number.
var ErrNotExecutable = errors.New("not an executable")

// Header describes the segments of an image.
type Header struct {
	Magic    uint32
	TextSize uint32
	DataSize uint32
}

// A File is an open executable image.
type File struct {
	name   string
	file   afero.File
	header Header
}

// Write creates an executable image.
func Write(fs afero.Fs, name string, text, data []byte) error {
	f, err := fs.Create(name)
	if err != nil {
		return err
	}

	h := Header{
		Magic:    Magic,
		TextSize: uint32(len(text)),
		DataSize: uint32(len(data)),
	}

	err = binary.Write(f, binary.LittleEndian, h)
	if err == nil {
		_, err = f.Write(text)
	}

	if err == nil {
		_, err = f.Write(data)
	}

	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	return closeErr
}

// Open opens an executable image.
func Open(fs afero.Fs, name string) (*File, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}

	var h Header

	err = binary.Read(f, binary.LittleEndian, &h)
	if err != nil || h.Magic != Magic {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrNotExecutable)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() < HeaderSize+int64(h.TextSize)+int64(h.DataSize) {
		f.Close()
		return nil, fmt.Errorf("%s is truncated: %w", name, ErrNotExecutable)
	}

	return &File{name: name, file: f, header: h}, nil
}

// Name returns the name of the file.
func (f *File) Name() string {
	return f.name
}

// Header returns the header of the image.
func (f *File) Header() Header {
	return f.header
}

// Size returns the number of bytes of the image, text and data.
func (f *File) Size() int64 {
	return int64(f.header.TextSize) + int64(f.header.DataSize)
}

// ReadOnlySize returns the size of the text segment.
func (f *File) ReadOnlySize() int64 {
	return int64(f.header.TextSize)
}

// ReadAt reads the image. Offset 0 is the first byte of the text segment.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%s: negative offset %d", f.name, off)
	}

	if off >= f.Size() {
		return 0, io.EOF
	}

	n := len(p)
	if rest := f.Size() - off; int64(n) > rest {
		n = int(rest)
	}

	read, err := f.file.ReadAt(p[:n], HeaderSize+off)
	if err == nil && read < len(p) {
		err = io.EOF
	}

	return read, err
}

// Close closes the file.
func (f *File) Close() error {
	return f.file.Close()
}
