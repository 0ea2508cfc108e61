// Package loader parses a guest RISC-V ELF binary and prepares its initial
// guest memory image: a single enclosing R|W|X allocation covering every
// PT_LOAD segment, plus a stack with argv/argc pushed per the RV64 calling
// convention. Grounded on original_source's loader.cc/loader.h (which
// hand-parses ELF headers with fixed 100-segment caps) and on
// zboralski-galago's internal/emulator/elf.go, but implemented against Go's
// standard debug/elf rather than a hand-rolled header parser: debug/elf
// already validates magic, class (ELFCLASS64) and machine (EM_RISCV), and
// there is no RISC-V-specific header quirk in scope here that debug/elf
// fails to expose through ProgHeader.
package loader

import (
	"debug/elf"
	"fmt"

	"github.com/latortuga71/CoffeePot/internal/mmu"
)

// Segment is one PT_LOAD program header's worth of loadable bytes, matching
// the {vaddr, filesz, memsz, data} tuple named in the external interface.
type Segment struct {
	VAddr  uint64
	FileSz uint64
	MemSz  uint64
	Data   []byte
}

// Image is the result of loading an ELF file: its entry point and the
// PT_LOAD segments in program-header order.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Load parses path and returns its entry point and loadable segments.
func Load(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: open %q: %w", path, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("loader: %q is not a 64-bit ELF", path)
	}

	img := &Image{Entry: f.Entry}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			sr := prog.Open()
			if _, err := sr.Read(data); err != nil {
				return nil, fmt.Errorf("loader: read segment at 0x%x: %w", prog.Vaddr, err)
			}
		}
		img.Segments = append(img.Segments, Segment{
			VAddr:  prog.Vaddr,
			FileSz: prog.Filesz,
			MemSz:  prog.Memsz,
			Data:   data,
		})
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("loader: %q has no PT_LOAD segments", path)
	}
	return img, nil
}

// MapInto allocates one enclosing R|W|X segment in m spanning every
// PT_LOAD range and copies each segment's file bytes to its vaddr, per the
// external-interface contract: the core requests a single allocation
// covering [min vaddr, max vaddr+memsz) rather than one allocation per
// program header.
func (img *Image) MapInto(m *mmu.MMU) error {
	lo, hi := img.Segments[0].VAddr, img.Segments[0].VAddr+img.Segments[0].MemSz
	for _, seg := range img.Segments[1:] {
		if seg.VAddr < lo {
			lo = seg.VAddr
		}
		if end := seg.VAddr + seg.MemSz; end > hi {
			hi = end
		}
	}

	if _, err := m.Alloc(lo, hi-lo, mmu.PermRead|mmu.PermWrite|mmu.PermExec); err != nil {
		return fmt.Errorf("loader: map enclosing range [0x%x,0x%x): %w", lo, hi, err)
	}
	for _, seg := range img.Segments {
		if len(seg.Data) == 0 {
			continue
		}
		if err := m.CopyIn(seg.Data, seg.VAddr); err != nil {
			return fmt.Errorf("loader: copy segment at 0x%x: %w", seg.VAddr, err)
		}
	}
	return nil
}

const (
	stackSize  = 128 * 1024
	stackAlign = 16
)

// InitStack allocates an R|W stack segment, pushes argv strings as small
// anonymous allocations, then pushes the argv pointer vector, three zero
// auxiliary/envp terminators, and argc, per §6's stack layout. It returns
// the initial stack pointer, 16-byte aligned.
func InitStack(m *mmu.MMU, argv []string) (uint64, error) {
	base, err := m.Alloc(0, stackSize, mmu.PermRead|mmu.PermWrite)
	if err != nil {
		return 0, fmt.Errorf("loader: alloc stack: %w", err)
	}
	top := base + stackSize

	argvPtrs := make([]uint64, len(argv))
	for i, s := range argv {
		buf := append([]byte(s), 0)
		addr, err := m.Alloc(0, uint64(len(buf)), mmu.PermRead|mmu.PermWrite)
		if err != nil {
			return 0, fmt.Errorf("loader: alloc argv[%d]: %w", i, err)
		}
		if err := m.CopyIn(buf, addr); err != nil {
			return 0, fmt.Errorf("loader: write argv[%d]: %w", i, err)
		}
		argvPtrs[i] = addr
	}

	// Compute the 16-byte aligned sp *before* pushing anything, per §6: a
	// mask applied after the push loop would slide the returned sp below
	// where argc was actually written whenever top-totalPushed isn't
	// already aligned.
	totalPushed := uint64(3+len(argvPtrs)+1) * 8
	sp := (top - totalPushed) &^ uint64(stackAlign-1)

	push := func(v uint64) error {
		sp -= 8
		return m.WriteU64(sp, v)
	}

	for i := 0; i < 3; i++ {
		if err := push(0); err != nil {
			return 0, err
		}
	}
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		if err := push(argvPtrs[i]); err != nil {
			return 0, err
		}
	}
	if err := push(uint64(len(argv))); err != nil {
		return 0, err
	}

	return sp, nil
}
