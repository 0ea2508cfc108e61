package loader

import (
	"testing"

	"github.com/latortuga71/CoffeePot/internal/mmu"
)

func TestInitStackAlignment(t *testing.T) {
	m := mmu.New()
	sp, err := InitStack(m, []string{"target", "-x", "1"})
	if err != nil {
		t.Fatalf("InitStack: %v", err)
	}
	if sp%stackAlign != 0 {
		t.Fatalf("sp 0x%x is not %d-byte aligned", sp, stackAlign)
	}
}

func TestInitStackArgcAndArgv(t *testing.T) {
	m := mmu.New()
	argv := []string{"target", "--flag"}
	sp, err := InitStack(m, argv)
	if err != nil {
		t.Fatalf("InitStack: %v", err)
	}

	argc, err := m.ReadU64(sp)
	if err != nil {
		t.Fatalf("read argc: %v", err)
	}
	if argc != uint64(len(argv)) {
		t.Fatalf("argc = %d, want %d", argc, len(argv))
	}

	for i, want := range argv {
		ptr, err := m.ReadU64(sp + 8 + uint64(i)*8)
		if err != nil {
			t.Fatalf("read argv[%d] pointer: %v", i, err)
		}
		got, err := m.ReadString(ptr)
		if err != nil {
			t.Fatalf("read argv[%d] string: %v", i, err)
		}
		if got != want {
			t.Fatalf("argv[%d] = %q, want %q", i, got, want)
		}
	}

	for i := 0; i < 3; i++ {
		term, err := m.ReadU64(sp + 8 + uint64(len(argv))*8 + uint64(i)*8)
		if err != nil {
			t.Fatalf("read terminator[%d]: %v", i, err)
		}
		if term != 0 {
			t.Fatalf("terminator[%d] = 0x%x, want 0", i, term)
		}
	}
}

func TestInitStackEmptyArgv(t *testing.T) {
	m := mmu.New()
	sp, err := InitStack(m, nil)
	if err != nil {
		t.Fatalf("InitStack: %v", err)
	}
	if sp%stackAlign != 0 {
		t.Fatalf("sp 0x%x is not %d-byte aligned", sp, stackAlign)
	}
	argc, err := m.ReadU64(sp)
	if err != nil {
		t.Fatalf("read argc: %v", err)
	}
	if argc != 0 {
		t.Fatalf("argc = %d, want 0", argc)
	}
}
