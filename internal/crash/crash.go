// Package crash implements Coffeepot's crash recorder: a counter plus a
// directory sink for the fuzz case that triggered each recorded fault.
package crash

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Recorder counts crashes and persists one artifact file per crash. Like
// the coverage map it is a long-lived collaborator re-attached to the
// working emulator after every restore, and is shared by every fuzz
// worker, so the counter is updated under mu; each artifact goes to its
// own file, which is written after mu is released.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	crashes uint64
}

// New returns a Recorder that writes artifacts under dir, creating it if
// it does not already exist.
func New(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("crash: create dir %q: %w", dir, err)
	}
	return &Recorder{dir: dir}, nil
}

// Count returns the number of crashes recorded so far.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.crashes
}

// Record bumps the crash counter and writes data to a new artifact file
// named by the faulting PC, the crash ordinal, and a short UUID suffix so
// that concurrent workers never collide on a file name.
func (r *Recorder) Record(pc uint64, data []byte) error {
	r.mu.Lock()
	r.crashes++
	n := r.crashes
	r.mu.Unlock()

	name := fmt.Sprintf("_0x%x_crash_%d_%s.bin", pc, n, uuid.NewString()[:8])
	path := filepath.Join(r.dir, name)
	return os.WriteFile(path, data, 0o644)
}
