package mutate

import (
	"math"
	"math/rand"
	"testing"
)

// TestMutatePreservesScratchLength checks invariant 6: Mutate must never
// grow or shrink scratch, regardless of source length.
func TestMutatePreservesScratchLength(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	scratch := make([]byte, 64)
	source := []byte("short")

	Mutate(source, scratch, rng, nil)

	if len(scratch) != 64 {
		t.Fatalf("len(scratch) = %d, want 64", len(scratch))
	}
}

// TestMutatePadsWithZerosWhenSourceShorter checks that bytes beyond a short
// source are zero-padded before mutation runs, rather than left as
// uninitialised leftovers from a previous call.
func TestMutatePadsWithZerosWhenSourceShorter(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	scratch := make([]byte, 8)
	for i := range scratch {
		scratch[i] = 0xff
	}
	source := []byte{0x41, 0x42}

	Mutate(source, scratch, rng, nil)

	// Positions beyond len(source) start at zero before mutation. With an
	// 8-byte scratch, k = ceil(rate*8) is 1 for every rate in
	// [MinRate, MaxRate], so at most one byte may differ from the padded copy.
	if len(scratch) != 8 {
		t.Fatalf("len(scratch) = %d, want 8", len(scratch))
	}
	want := []byte{0x41, 0x42, 0, 0, 0, 0, 0, 0}
	diff := 0
	for i := range want {
		if scratch[i] != want[i] {
			diff++
		}
	}
	if diff > 1 {
		t.Fatalf("scratch = %x, differs from padded copy %x in %d bytes, want at most 1", scratch, want, diff)
	}
}

// TestMutateCountUsesCeil pins the arithmetic of k = ceil(rate*size): at
// rate=0.05, size=4096, truncation gives 204 where the documented formula
// gives 205. It checks the formula only; it does not call Mutate.
func TestMutateCountUsesCeil(t *testing.T) {
	rate := 0.05
	size := 4096
	truncated := int(rate * float64(size))
	ceiled := int(math.Ceil(rate * float64(size)))
	if truncated == ceiled {
		t.Fatalf("test setup invalid: truncation and ceiling agree at rate=%v size=%d", rate, size)
	}
	if ceiled != 205 {
		t.Fatalf("ceil(rate*size) = %d, want 205", ceiled)
	}
}
