package vm

import "fmt"

// UnsupportedInstructionError is raised when the decoder recognises the
// instruction form but this core does not implement it (placeholder
// atomics, float/double opcodes, etc). It is recorded as a crash: not a
// bug in the guest, but a gap in emulator coverage worth triaging.
type UnsupportedInstructionError struct {
	Raw uint64
	PC  uint64
}

func (e *UnsupportedInstructionError) Error() string {
	return fmt.Sprintf("unsupported instruction 0x%x at pc=0x%x", e.Raw, e.PC)
}

// UnsupportedSyscallError is raised when `ecall` names a syscall number
// this shim does not emulate.
type UnsupportedSyscallError struct {
	Num uint64
	PC  uint64
}

func (e *UnsupportedSyscallError) Error() string {
	return fmt.Sprintf("unsupported syscall %d at pc=0x%x", e.Num, e.PC)
}

// EbreakError signals a guest `ebreak`. It is part of the recorded-crash
// taxonomy (see IsCrash): inside the fuzz loop it ends the iteration and
// its fuzz case is persisted like any other crash; before the snapshot
// point it aborts the worker, as every fault does there.
type EbreakError struct {
	PC uint64
}

func (e *EbreakError) Error() string {
	return fmt.Sprintf("ebreak at pc=0x%x", e.PC)
}

// ExitError signals the guest's `exit` syscall ending the current fuzz
// iteration cleanly (not a crash).
type ExitError struct {
	Code int64
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("guest exit(%d)", e.Code)
}
