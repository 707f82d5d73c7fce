// Copyright 2025 Certen Protocol
//
// Trap classification — maps wasmtime's failure modes onto the fixed
// set spec §4.D requires the Component Host to distinguish, so the
// Kernel Dispatch (F) can decide MessageFailed vs BlockError.

package host

import (
	"errors"
	"strings"

	"github.com/bytecodealliance/wasmtime-go/v25"
)

// Kind is one of the trap classes spec §4.D names. The zero value means
// "no trap".
type Kind int

const (
	None Kind = iota
	OutOfGas
	Timeout
	OutOfMemory
	StackOverflow
	PermissionDenied
	Unreachable
	Unknown
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case OutOfGas:
		return "out_of_gas"
	case Timeout:
		return "timeout"
	case OutOfMemory:
		return "out_of_memory"
	case StackOverflow:
		return "stack_overflow"
	case PermissionDenied:
		return "permission_denied"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// classify inspects an error returned from instantiation or from calling
// a guest export and reports which trap class it belongs to. nil maps
// to None.
func classify(err error) Kind {
	if err == nil {
		return None
	}
	var trap *wasmtime.Trap
	if errors.As(err, &trap) {
		if code := trap.Code(); code != nil {
			switch *code {
			case wasmtime.TrapCodeOutOfFuel:
				return OutOfGas
			case wasmtime.TrapCodeInterrupt:
				return Timeout
			case wasmtime.TrapCodeStackOverflow:
				return StackOverflow
			case wasmtime.TrapCodeUnreachableCodeReached:
				return Unreachable
			case wasmtime.TrapCodeMemoryOutOfBounds, wasmtime.TrapCodeTableOutOfBounds:
				return OutOfMemory
			default:
				return Unknown
			}
		}
		// A host-returned error (our own fs/permission/OOB errors
		// surfaced through DefineFunc) arrives as a trap with no code.
		return classifyMessage(trap.Message())
	}
	return classifyMessage(err.Error())
}

func classifyMessage(msg string) Kind {
	switch {
	case strings.Contains(msg, "permission denied"):
		return PermissionDenied
	case strings.Contains(msg, "out of fuel"), strings.Contains(msg, "all fuel consumed"):
		return OutOfGas
	case strings.Contains(msg, "memory"), strings.Contains(msg, "resource limit"):
		return OutOfMemory
	case strings.Contains(msg, "epoch"), strings.Contains(msg, "deadline"):
		return Timeout
	case strings.Contains(msg, "unreachable"):
		return Unreachable
	case strings.Contains(msg, "stack overflow"):
		return StackOverflow
	default:
		return Unknown
	}
}
