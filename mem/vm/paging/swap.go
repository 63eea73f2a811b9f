package paging

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/afero"

	"github.com/ignaciolitma/nachOS/mem/vm"
)

// A SwapStore is the swap area of one address space. It is a file of
// page-sized slots. A page keeps the slot it was first written to, so
// rewriting a page overwrites its slot. The file is created on the first
// write.
//
// A SwapStore is guarded by the lock of the CoreMap that owns its address
// space.
type SwapStore struct {
	fs       afero.Fs
	name     string
	pageSize int

	file     afero.File
	slots    map[vm.VPN]int
	numSlots int
}

// NewSwapStore creates a swap area backed by the file name in fs.
func NewSwapStore(fs afero.Fs, name string, pageSize int) *SwapStore {
	return &SwapStore{
		fs:       fs,
		name:     name,
		pageSize: pageSize,
		slots:    make(map[vm.VPN]int),
	}
}

// SwapFileName returns the name of the swap file of a process.
func SwapFileName(pid vm.PID) string {
	return fmt.Sprintf("SWAP.%d", pid)
}

// Name returns the name of the backing file.
func (s *SwapStore) Name() string {
	return s.name
}

// Created tells if the backing file exists.
func (s *SwapStore) Created() bool {
	return s.file != nil
}

// NumSlots returns the number of slots handed out.
func (s *SwapStore) NumSlots() int {
	return s.numSlots
}

// Slot returns the slot that holds a page.
func (s *SwapStore) Slot(vpn vm.VPN) (int, bool) {
	slot, ok := s.slots[vpn]
	return slot, ok
}

// WriteToSwap stores the content of a page and returns its slot.
func (s *SwapStore) WriteToSwap(vpn vm.VPN, data []byte) (int, error) {
	s.pageMustFit(data)

	if err := s.create(); err != nil {
		return vm.NoSwapSlot, err
	}

	slot, ok := s.slots[vpn]
	if !ok {
		slot = s.numSlots
	}

	_, err := s.file.WriteAt(data, int64(slot)*int64(s.pageSize))
	if err != nil {
		return vm.NoSwapSlot,
			fmt.Errorf("%w: write page %d to %s: %v", vm.ErrSwapIO, vpn, s.name, err)
	}

	if !ok {
		s.slots[vpn] = slot
		s.numSlots++
	}

	return slot, nil
}

// ReadFromSwap fills buf with the content last written for a page. Reading a
// page that was never written is a bookkeeping error and panics.
func (s *SwapStore) ReadFromSwap(vpn vm.VPN, buf []byte) error {
	s.pageMustFit(buf)

	slot, ok := s.slots[vpn]
	if !ok || s.file == nil {
		log.Panicf("page %d has no slot in %s", vpn, s.name)
	}

	_, err := s.file.ReadAt(buf, int64(slot)*int64(s.pageSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: read page %d from %s: %v", vm.ErrSwapIO, vpn, s.name, err)
	}

	return nil
}

// Remove deletes the backing file and forgets every slot.
func (s *SwapStore) Remove() error {
	if s.file == nil {
		return nil
	}

	closeErr := s.file.Close()
	s.file = nil
	s.slots = make(map[vm.VPN]int)
	s.numSlots = 0

	if err := s.fs.Remove(s.name); err != nil {
		return fmt.Errorf("%w: remove %s: %v", vm.ErrSwapIO, s.name, err)
	}

	if closeErr != nil {
		return fmt.Errorf("%w: close %s: %v", vm.ErrSwapIO, s.name, closeErr)
	}

	return nil
}

func (s *SwapStore) create() error {
	if s.file != nil {
		return nil
	}

	f, err := s.fs.OpenFile(s.name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", vm.ErrSwapIO, s.name, err)
	}

	s.file = f

	return nil
}

func (s *SwapStore) pageMustFit(buf []byte) {
	if len(buf) != s.pageSize {
		log.Panicf("swap %s works with pages of %d bytes, got %d",
			s.name, s.pageSize, len(buf))
	}
}
