// Package machine simulates the CPU side of user memory accesses: address
// translation through the TLB, the registers that matter to the kernel, and
// the delivery of exceptions.
package machine

import (
	"encoding/binary"
	"log"

	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/mem/vm/tlb"
	"github.com/ignaciolitma/nachOS/sim"
)

// An ExceptionHandler is the kernel entry point. It returns true if the
// instruction that raised the exception must be executed again.
type ExceptionHandler interface {
	HandleException(m *Machine, which vm.ExceptionType, vaddr uint64) bool
}

// A Machine runs the memory accesses of one user process at a time. It is not
// safe for concurrent use.
type Machine struct {
	sim.HookableBase
	sim.NamedBase

	memory     []byte
	pageSize   int
	tlb        *tlb.TLB
	clock      *sim.Clock
	handler    ExceptionHandler
	maxRetries int

	registers [NumTotalRegs]uint64
}

// Memory returns the main memory.
func (m *Machine) Memory() []byte {
	return m.memory
}

// PageSize returns the number of bytes in a page.
func (m *Machine) PageSize() int {
	return m.pageSize
}

// TLB returns the translation buffer.
func (m *Machine) TLB() *tlb.TLB {
	return m.tlb
}

// Clock returns the clock that the machine advances.
func (m *Machine) Clock() *sim.Clock {
	return m.clock
}

// CurrentTime returns the number of ticks elapsed.
func (m *Machine) CurrentTime() sim.VTime {
	return m.clock.CurrentTime()
}

// SetExceptionHandler sets the kernel entry point.
func (m *Machine) SetExceptionHandler(h ExceptionHandler) {
	m.handler = h
}

// ReadRegister returns the content of a register.
func (m *Machine) ReadRegister(n int) uint64 {
	registerMustExist(n)
	return m.registers[n]
}

// WriteRegister sets the content of a register.
func (m *Machine) WriteRegister(n int, v uint64) {
	registerMustExist(n)
	m.registers[n] = v
}

func registerMustExist(n int) {
	if n < 0 || n >= NumTotalRegs {
		log.Panicf("register %d does not exist", n)
	}
}

// ResetRegisters clears the registers and sets the program counter to pc.
func (m *Machine) ResetRegisters(pc uint64) {
	m.registers = [NumTotalRegs]uint64{}
	m.registers[PCReg] = pc
	m.registers[NextPCReg] = pc + InstructionSize
}

// Registers returns a copy of the registers, to be saved on a context
// switch.
func (m *Machine) Registers() [NumTotalRegs]uint64 {
	return m.registers
}

// RestoreRegisters loads registers saved by Registers.
func (m *Machine) RestoreRegisters(r [NumTotalRegs]uint64) {
	m.registers = r
}

// Translate converts a virtual address into a physical address. It raises no
// exception itself, the caller does.
func (m *Machine) Translate(vaddr uint64, write bool) (uint64, vm.ExceptionType) {
	vpn := vm.VPN(vaddr / uint64(m.pageSize))
	offset := vaddr % uint64(m.pageSize)

	slot, entry, found := m.tlb.Lookup(vpn)
	if !found {
		return 0, vm.PageFaultException
	}

	if write && entry.ReadOnly {
		return 0, vm.ReadOnlyException
	}

	if entry.PhysicalPage < 0 ||
		(entry.PhysicalPage+1)*m.pageSize > len(m.memory) {
		return 0, vm.BusErrorException
	}

	m.tlb.Access(slot, write)

	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    vm.HookPosMemAccess,
		Item: vm.MemAccess{
			VAddr: vaddr,
			Frame: entry.PhysicalPage,
			Write: write,
		},
	})

	return uint64(entry.PhysicalPage)*uint64(m.pageSize) + offset, vm.NoException
}

// ReadMem reads size bytes (1, 2 or 4) at vaddr, little endian. Exceptions are
// handed to the kernel, and the access is retried if the kernel resolved
// them. The program counter moves to the next instruction only when the
// access succeeds.
func (m *Machine) ReadMem(vaddr uint64, size int) (uint32, vm.ExceptionType) {
	var value uint32

	exception := m.access(vaddr, size, false, func(b []byte) {
		switch size {
		case 1:
			value = uint32(b[0])
		case 2:
			value = uint32(binary.LittleEndian.Uint16(b))
		case 4:
			value = binary.LittleEndian.Uint32(b)
		}
	})

	return value, exception
}

// WriteMem writes size bytes (1, 2 or 4) of value at vaddr, little endian.
func (m *Machine) WriteMem(vaddr uint64, size int, value uint32) vm.ExceptionType {
	return m.access(vaddr, size, true, func(b []byte) {
		switch size {
		case 1:
			b[0] = byte(value)
		case 2:
			binary.LittleEndian.PutUint16(b, uint16(value))
		case 4:
			binary.LittleEndian.PutUint32(b, value)
		}
	})
}

func (m *Machine) access(
	vaddr uint64,
	size int,
	write bool,
	do func(b []byte),
) vm.ExceptionType {
	if size != 1 && size != 2 && size != 4 {
		log.Panicf("cannot access %d bytes", size)
	}

	if vaddr%uint64(size) != 0 {
		m.RaiseException(vm.AddressErrorException, vaddr)
		return vm.AddressErrorException
	}

	for attempt := 0; ; attempt++ {
		paddr, exception := m.Translate(vaddr, write)
		if exception == vm.NoException {
			do(m.memory[paddr : paddr+uint64(size)])
			m.retire()

			return vm.NoException
		}

		retry := m.RaiseException(exception, vaddr)
		if !retry || attempt >= m.maxRetries {
			return exception
		}
	}
}

// RaiseException transfers control to the kernel.
func (m *Machine) RaiseException(which vm.ExceptionType, badVAddr uint64) bool {
	m.registers[BadVAddrReg] = badVAddr
	m.clock.Advance(sim.SystemTick)

	if m.handler == nil {
		return false
	}

	return m.handler.HandleException(m, which, badVAddr)
}

func (m *Machine) retire() {
	m.clock.Advance(sim.UserTick)

	pc := m.registers[PCReg]
	m.registers[PrevPCReg] = pc
	m.registers[PCReg] = m.registers[NextPCReg]
	m.registers[NextPCReg] = m.registers[PCReg] + InstructionSize
}
