// Package fuzzer implements the coverage-guided snapshot fuzz loop: run an
// emulator to its configured snapshot point, then repeatedly mutate a
// corpus entry into the guest, run to the restore point or a crash, grow
// the corpus on novel coverage, and restore -- continuing after a crash
// rather than exiting, per the documented correctness fix over the
// original driver.
package fuzzer

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/latortuga71/CoffeePot/internal/config"
	"github.com/latortuga71/CoffeePot/internal/corpus"
	"github.com/latortuga71/CoffeePot/internal/coverage"
	"github.com/latortuga71/CoffeePot/internal/crash"
	"github.com/latortuga71/CoffeePot/internal/loader"
	"github.com/latortuga71/CoffeePot/internal/mmu"
	"github.com/latortuga71/CoffeePot/internal/mutate"
	"github.com/latortuga71/CoffeePot/internal/stats"
	"github.com/latortuga71/CoffeePot/internal/vm"
)

// Fuzzer owns the collaborators shared across every worker: the corpus,
// coverage map, crash recorder and stats counters are mutex-guarded inside
// their own packages, so sharing one instance of each across goroutines is
// safe without an extra lock here.
type Fuzzer struct {
	cfg   *config.TargetConfig
	img   *loader.Image
	corp  *corpus.Corpus
	cov   *coverage.Map
	crsh  *crash.Recorder
	stats *stats.Stats
	extra []mutate.ScriptStrategy
}

// New wires one Fuzzer from its already-loaded collaborators.
func New(cfg *config.TargetConfig, img *loader.Image, corp *corpus.Corpus, crsh *crash.Recorder, extra []mutate.ScriptStrategy) *Fuzzer {
	return &Fuzzer{
		cfg:   cfg,
		img:   img,
		corp:  corp,
		cov:   coverage.New(),
		crsh:  crsh,
		stats: stats.New(),
		extra: extra,
	}
}

// Stats exposes the shared counters for the CLI/dashboard to read.
func (f *Fuzzer) Stats() *stats.Stats { return f.stats }

// Run starts cfg.Workers worker goroutines, each building its own emulator
// from img and racing to the snapshot point before entering the mutate/
// restore loop. Run blocks until ctx is cancelled or a worker returns an
// error, which stops the other workers and is returned; a cancelled ctx is
// not itself treated as a reportable error.
func (f *Fuzzer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < f.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			return f.runWorker(gctx, id)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (f *Fuzzer) runWorker(ctx context.Context, id int) error {
	emu := vm.New(f.cov)
	emu.Crash = f.crsh

	if err := f.img.MapInto(emu.MMU); err != nil {
		return fmt.Errorf("fuzzer: worker %d map image: %w", id, err)
	}
	sp, err := loader.InitStack(emu.MMU, []string{"coffeepot"})
	if err != nil {
		return fmt.Errorf("fuzzer: worker %d init stack: %w", id, err)
	}
	emu.CPU.SetReg(2, sp)
	emu.CPU.SyncSPMirror()
	emu.CPU.PC = f.img.Entry

	if _, err := emu.MMU.Alloc(f.cfg.FuzzBufferAddr, f.cfg.ScratchSize, mmu.PermRead|mmu.PermWrite); err != nil {
		return fmt.Errorf("fuzzer: worker %d alloc fuzz buffer: %w", id, err)
	}

	if err := runTo(emu, f.cfg.SnapshotAddr); err != nil {
		return fmt.Errorf("fuzzer: worker %d run-to-snapshot: %w", id, err)
	}

	emu.MMU.SetMonitorDirty(true)
	master := emu.Clone()

	rng := rand.New(rand.NewSource(f.cfg.Seed + int64(id)))
	scratch := make([]byte, f.cfg.ScratchSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		idx := rng.Intn(f.corp.Len())
		source := f.corp.At(idx)
		mutate.Mutate(source.Data, scratch, rng, f.extra)

		if err := emu.MMU.CopyIn(scratch, f.cfg.FuzzBufferAddr); err != nil {
			return fmt.Errorf("fuzzer: worker %d write fuzz buffer: %w", id, err)
		}
		emu.FuzzCase = scratch

		before := f.cov.UniqueEdges()
		_ = runTo(emu, f.cfg.RestoreAddr)
		crashed := emu.Crashed

		if f.cov.UniqueEdges() > before {
			if err := f.corp.Add(scratch, f.cfg.OutDir); err != nil {
				return fmt.Errorf("fuzzer: worker %d grow corpus: %w", id, err)
			}
		}

		emu.Restore(master)
		emu.Coverage = f.cov
		emu.Crash = f.crsh

		f.stats.IncCase()
		if crashed {
			f.stats.IncCrash()
		}
		f.stats.SetCoverage(f.cov.UniqueEdges(), uint64(f.corp.Len()))
	}
}

// runTo steps the emulator until it reaches target or faults. A fault is
// reported to the caller but is not itself a Go error worth propagating
// past the loop -- crash accounting already happened inside Step via the
// emulator's attached crash recorder.
func runTo(emu *vm.Emulator, target uint64) error {
	for emu.CPU.PC != target {
		if err := emu.Step(); err != nil {
			return err
		}
	}
	return nil
}
