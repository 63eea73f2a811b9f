// Package vm provides the models shared by the virtual memory subsystem.
package vm

import (
	"io"

	"github.com/ignaciolitma/nachOS/sim"
)

// PID stands for Process ID. It also identifies the address space owned by
// the process.
type PID int

// NoPID marks a frame that is not owned by any process.
const NoPID PID = -1

// VPN is a virtual page number, an index into a page table.
type VPN uint64

// NoSwapSlot marks a page that was never written to swap.
const NoSwapSlot = -1

// A PageTableEntry maintains the information about how to translate a virtual
// page to a physical frame.
type PageTableEntry struct {
	VirtualPage VPN

	// PhysicalPage is meaningful only if Valid is set.
	PhysicalPage int

	// Valid is set while the page is resident in a physical frame.
	Valid bool

	// Loaded is set once the page has been touched. A loaded page that is
	// not valid has been evicted.
	Loaded bool

	ReadOnly bool
	Dirty    bool
	Use      bool

	// SwapSlot is the slot of the swap area that holds the latest content
	// written for the page, or NoSwapSlot.
	SwapSlot int
}

// OnSwap tells if the content of the page has to be fetched from swap.
func (e PageTableEntry) OnSwap() bool {
	return e.Loaded && !e.Valid && e.SwapSlot != NoSwapSlot
}

// TLBEntry returns the translation buffer view of the entry.
func (e PageTableEntry) TLBEntry() TLBEntry {
	return TLBEntry{
		VirtualPage:  e.VirtualPage,
		PhysicalPage: e.PhysicalPage,
		Valid:        e.Valid,
		ReadOnly:     e.ReadOnly,
		Dirty:        e.Dirty,
		Use:          e.Use,
	}
}

// A TLBEntry is a hardware-visible copy of a page table entry. It can be
// stale, the page table holds the authoritative state.
type TLBEntry struct {
	VirtualPage  VPN
	PhysicalPage int
	Valid        bool
	ReadOnly     bool
	Dirty        bool
	Use          bool
}

// An Executable is the program image that backs an address space.
// ReadAt works in image coordinates: offset 0 is the first byte of virtual
// address 0.
type Executable interface {
	io.ReaderAt

	// Size returns the number of bytes of the image.
	Size() int64

	// ReadOnlySize returns the number of bytes, from the start of the image,
	// that user code must not write (the text segment).
	ReadOnlySize() int64
}

// HookPosMemAccess is triggered every time a user access is translated
// successfully. The hook item is a MemAccess.
var HookPosMemAccess = &sim.HookPos{Name: "MemAccess"}

// MemAccess describes a translated user memory access.
type MemAccess struct {
	VAddr uint64
	Frame int
	Write bool
}
