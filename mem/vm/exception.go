package vm

import (
	"errors"
	"fmt"
)

// ExceptionType is the kind of trap raised by the machine. The numeric value
// is the exit status of a process terminated by the exception.
type ExceptionType int

// The exceptions that the machine can raise.
const (
	NoException ExceptionType = iota
	SyscallException
	PageFaultException
	ReadOnlyException
	BusErrorException
	AddressErrorException
	OverflowException
	IllegalInstrException
	IOErrorException
	NumExceptionTypes
)

var exceptionNames = [...]string{
	"NoException",
	"SyscallException",
	"PageFaultException",
	"ReadOnlyException",
	"BusErrorException",
	"AddressErrorException",
	"OverflowException",
	"IllegalInstrException",
	"IOErrorException",
}

func (t ExceptionType) String() string {
	if t < 0 || t >= NumExceptionTypes {
		return fmt.Sprintf("ExceptionType(%d)", int(t))
	}

	return exceptionNames[t]
}

// Errors that terminate the faulting process.
var (
	ErrAddressOutOfRange = errors.New("virtual page out of range")
	ErrReadOnly          = errors.New("write to read-only page")
	ErrSwapIO            = errors.New("swap i/o failure")
	ErrExecutableIO      = errors.New("executable i/o failure")
)

// A FaultError reports a fault that could not be resolved.
type FaultError struct {
	PID       PID
	VAddr     uint64
	Exception ExceptionType
	Err       error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("process %d: %s at 0x%x: %v",
		e.PID, e.Exception, e.VAddr, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// ExceptionOf returns the exception code that an error terminates a process
// with.
func ExceptionOf(err error) ExceptionType {
	var faultErr *FaultError

	switch {
	case err == nil:
		return NoException
	case errors.As(err, &faultErr):
		return faultErr.Exception
	case errors.Is(err, ErrAddressOutOfRange):
		return AddressErrorException
	case errors.Is(err, ErrReadOnly):
		return ReadOnlyException
	default:
		// Everything else comes from the swap or the executable files.
		return IOErrorException
	}
}
