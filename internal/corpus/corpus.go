// Package corpus manages the ordered, append-only set of fuzz cases driving
// the mutator: an initial load from a flat directory of seed files, plus
// growth as the fuzz loop discovers inputs that expand coverage.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FuzzCase owns a copy of the bytes it was constructed with; callers never
// alias a corpus entry's backing array.
type FuzzCase struct {
	Data []byte
}

// Corpus is an ordered, append-only collection of fuzz cases guarded by a
// mutex so multiple fuzz workers can append concurrently (component O).
// Unlike the reference implementation's fixed 100-entry C array, growth
// here is an ordinary Go slice append -- there is no capacity to overrun.
type Corpus struct {
	mu    sync.Mutex
	cases []FuzzCase
	dir   string
}

// Load reads every regular file directly under dir into one FuzzCase each,
// in file-name order. Subdirectories and non-regular entries are ignored,
// matching the reference corpus's directory-scan semantics.
func Load(dir string) (*Corpus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus: read dir %q: %w", dir, err)
	}
	c := &Corpus{dir: dir}
	for _, ent := range entries {
		if !ent.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, fmt.Errorf("corpus: read case %q: %w", ent.Name(), err)
		}
		c.cases = append(c.cases, FuzzCase{Data: data})
	}
	if len(c.cases) == 0 {
		return nil, fmt.Errorf("corpus: %q contains no regular files", dir)
	}
	return c, nil
}

// Len returns the number of cases currently in the corpus.
func (c *Corpus) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cases)
}

// At returns a copy of the case at index i. Copying here, rather than
// handing back the backing slice, keeps the mutator's scratch buffer the
// sole owner of the bytes it mutates.
func (c *Corpus) At(i int) FuzzCase {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.cases[i]
	out := make([]byte, len(src.Data))
	copy(out, src.Data)
	return FuzzCase{Data: out}
}

// Add appends a copy of data as a new case and persists it to outDir under
// a UUID-suffixed name (component P), called when a fuzz iteration grows
// coverage.
func (c *Corpus) Add(data []byte, outDir string) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	c.mu.Lock()
	c.cases = append(c.cases, FuzzCase{Data: cp})
	c.mu.Unlock()

	if outDir == "" {
		return nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("corpus: create out dir %q: %w", outDir, err)
	}
	name := fmt.Sprintf("case_%s.bin", uuid.NewString()[:8])
	return os.WriteFile(filepath.Join(outDir, name), cp, 0o644)
}
