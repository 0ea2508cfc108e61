// Package config loads per-target Coffeepot configuration from a TOML
// file (a missing file is an error), grounded on dsmmcken-dh-cli's meta.toml pattern (read/parse
// with pelletier/go-toml/v2, wrap errors with fmt.Errorf/%w).
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// TargetConfig names everything the core treats as a compile-time-per-
// target constant: the snapshot/restore program counters, the fixed guest
// buffer address the mutator writes into, memory sizing, worker count, and
// the corpus/crash/output directories.
type TargetConfig struct {
	SnapshotAddr   uint64 `toml:"snapshot_addr"`
	RestoreAddr    uint64 `toml:"restore_addr"`
	FuzzBufferAddr uint64 `toml:"fuzz_buffer_addr"`
	StackSize      uint64 `toml:"stack_size"`
	ScratchSize    uint64 `toml:"scratch_size"`
	Workers        int    `toml:"workers"`
	CorpusDir      string `toml:"corpus_dir"`
	CrashDir       string `toml:"crash_dir"`
	OutDir         string `toml:"out_dir"`
	Seed           int64  `toml:"seed"`
}

// defaults fills in the fields a bare-minimum TOML file is allowed to omit.
func defaults() TargetConfig {
	return TargetConfig{
		StackSize:   128 * 1024,
		ScratchSize: 4096,
		Workers:     1,
		CorpusDir:   "corpus",
		CrashDir:    "crashes",
		OutDir:      "out",
		Seed:        1,
	}
}

// Load reads and parses path into a TargetConfig, starting from defaults()
// so a target only needs to specify what differs.
func Load(path string) (*TargetConfig, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return &cfg, nil
}
