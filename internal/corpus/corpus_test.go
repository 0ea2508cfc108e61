package corpus

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeSeed(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write seed %q: %v", name, err)
	}
}

func TestLoadReadsRegularFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, "a.bin", []byte{0x01})
	writeSeed(t, dir, "b.bin", []byte{0x02, 0x03})
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}

func TestLoadEmptyDirErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load on empty dir: want error, got nil")
	}
}

func TestAtReturnsIndependentCopy(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, "a.bin", []byte{0xAA, 0xBB})

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	fc := c.At(0)
	fc.Data[0] = 0x00

	fc2 := c.At(0)
	if fc2.Data[0] != 0xAA {
		t.Fatalf("mutating a copy from At mutated the corpus's backing bytes")
	}
}

func TestAddAppendsAndPersists(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, "a.bin", []byte{0x01})
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	outDir := t.TempDir()
	if err := c.Add([]byte{0x02, 0x03}, outDir); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("read outDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1 persisted case", len(entries))
	}
}

// TestAddConcurrentSafe drives Add from many goroutines at once; run with
// -race this catches any regression of the mutex guarding cases.
func TestAddConcurrentSafe(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, "a.bin", []byte{0x01})
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			_ = c.Add([]byte{0x09}, "")
		}()
	}
	wg.Wait()

	if c.Len() != 1+workers {
		t.Fatalf("Len() = %d, want %d", c.Len(), 1+workers)
	}
}
