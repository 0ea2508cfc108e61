package vm

import (
	"errors"

	"github.com/latortuga71/CoffeePot/internal/coverage"
	"github.com/latortuga71/CoffeePot/internal/crash"
	"github.com/latortuga71/CoffeePot/internal/mmu"
)

// Emulator couples one CPU, one MMU, and the long-lived coverage/crash
// collaborators that persist across restores. FuzzCase holds the scratch
// bytes currently resident in guest memory, needed when a crash has to be
// attributed to a fuzz case.
type Emulator struct {
	CPU      *CPU
	MMU      *mmu.MMU
	Coverage *coverage.Map
	Crash    *crash.Recorder

	// FDs mimics the reference emulator's tiny file-descriptor table so
	// the syscall shim has somewhere to park descriptor numbers; the
	// core never actually opens host files on the guest's behalf.
	FDs [100]int32

	// FuzzCase is the scratch buffer currently written into guest
	// memory. The fuzz loop swaps this in before each iteration; the
	// crash recorder reads it when persisting an artifact.
	FuzzCase []byte

	Crashed bool
}

// New returns an emulator with a fresh CPU/MMU and the given coverage
// collaborator. Crash is left nil: the fuzz loop attaches its shared
// recorder and sets FuzzCase before each iteration, and noteCrash then
// persists those bytes when a step faults.
func New(cov *coverage.Map) *Emulator {
	return &Emulator{
		CPU:      &CPU{},
		MMU:      mmu.New(),
		Coverage: cov,
	}
}

// recordEdge feeds the coverage map. taken distinguishes a branch target
// from its fallthrough purely for readability at call sites; both are
// recorded identically.
func (e *Emulator) recordEdge(src, dst uint64, taken bool) {
	if e.Coverage == nil {
		return
	}
	e.Coverage.Record(src, dst)
}

// Fetch reads the instruction word at pc and reports its length: 2 for a
// compressed form (low two bits != 11), 4 for a standard form.
func (e *Emulator) Fetch() (raw uint32, length uint64, err error) {
	word, err := e.MMU.FetchU32(e.CPU.PC)
	if err != nil {
		return 0, 0, err
	}
	if word&0x3 != 0x3 {
		return word & 0xffff, instrLenCompressed, nil
	}
	return word, instrLenStandard, nil
}

// Step fetches, decodes and executes exactly one instruction. x[0] is
// forced to zero before dispatch (per the invariant) and the stack
// pointer mirror is refreshed after every retired instruction, whether or
// not the instruction touched sp.
func (e *Emulator) Step() error {
	e.CPU.X[0] = 0
	raw, length, err := e.Fetch()
	if err != nil {
		e.noteCrash(err)
		return err
	}

	var execErr error
	if length == instrLenStandard {
		execErr = e.executeStandard(raw)
	} else {
		execErr = e.executeCompressed(raw)
	}
	if execErr != nil {
		e.noteCrash(execErr)
		return execErr
	}

	e.CPU.PC += length
	e.CPU.X[0] = 0
	e.CPU.SyncSPMirror()
	return nil
}

// IsCrash reports whether err is part of the recorded-crash taxonomy: a
// guest memory fault, an ebreak, or an implementation-gap error (unsupported
// instruction/syscall). exit(2) is deliberately excluded -- it ends the
// iteration cleanly and is never an artifact-worthy crash.
func IsCrash(err error) bool {
	var gf *mmu.GuestFault
	var eb *EbreakError
	var ui *UnsupportedInstructionError
	var us *UnsupportedSyscallError
	return errors.As(err, &gf) || errors.As(err, &eb) || errors.As(err, &ui) || errors.As(err, &us)
}

// noteCrash marks the emulator crashed and, if a recorder is attached,
// persists the fuzz case currently resident in guest memory. Persistence
// failures are swallowed here: a recorder error must never mask the fault
// that triggered it.
func (e *Emulator) noteCrash(err error) {
	if !IsCrash(err) {
		return
	}
	e.Crashed = true
	if e.Crash != nil {
		_ = e.Crash.Record(e.CPU.PC, e.FuzzCase)
	}
}

// Clone deep-copies the CPU and MMU (and thus every segment) but not the
// coverage map, matching the data model's Snapshot definition: coverage
// and crash state are long-lived and never part of a snapshot.
func (e *Emulator) Clone() *Emulator {
	return &Emulator{
		CPU: e.CPU.Clone(),
		MMU: e.MMU.Clone(),
	}
}

// Restore rewinds e's CPU and MMU to master's state, then leaves the
// caller to re-attach the long-lived coverage/crash/corpus/stats
// collaborators -- those are not part of what Restore touches.
func (e *Emulator) Restore(master *Emulator) {
	e.MMU.Restore(master.MMU)
	*e.CPU = *master.CPU
	e.Crashed = false
}
