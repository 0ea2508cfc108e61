package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/latortuga71/CoffeePot/internal/config"
	"github.com/latortuga71/CoffeePot/internal/corpus"
	"github.com/latortuga71/CoffeePot/internal/crash"
	"github.com/latortuga71/CoffeePot/internal/fuzzer"
	"github.com/latortuga71/CoffeePot/internal/loader"
	"github.com/latortuga71/CoffeePot/internal/logging"
	"github.com/latortuga71/CoffeePot/internal/mutate"
	"github.com/latortuga71/CoffeePot/internal/ui"
)

var (
	configPath  string
	workerFlag  int
	dashboard   bool
	maxCases    uint64
	luaScript   string
	logLevel    string
)

// NewRootCmd builds the coffeepot command: a single positional ELF path
// plus operational flags that configure the ambient stack only, never core
// fuzzing semantics (those live in the TOML target config).
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "coffeepot [flags] <elf-path>",
		Short:         "coverage-guided snapshot fuzzer for RV64GC user-mode programs",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "coffeepot.toml", "path to the target's TOML config")
	flags.IntVar(&workerFlag, "workers", 0, "override the worker count from the config file (0 = use config)")
	flags.BoolVar(&dashboard, "dashboard", false, "show the live stats dashboard instead of periodic log lines")
	flags.Uint64Var(&maxCases, "max-cases", 0, "stop after this many fuzz cases (0 = unbounded)")
	flags.StringVar(&luaScript, "lua-script", "", "optional Lua script contributing extra mutation strategies")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

func run(elfPath string) error {
	log := logging.New(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("loading target config")
	}
	if workerFlag > 0 {
		cfg.Workers = workerFlag
	}

	img, err := loader.Load(elfPath)
	if err != nil {
		log.WithError(err).Fatal("loading guest ELF")
	}

	corp, err := corpus.Load(cfg.CorpusDir)
	if err != nil {
		log.WithError(err).Fatal("loading corpus directory")
	}

	crsh, err := crash.New(cfg.CrashDir)
	if err != nil {
		log.WithError(err).Fatal("creating crash recorder")
	}

	var extra []mutate.ScriptStrategy
	if luaScript != "" {
		extra, err = mutate.LoadLuaStrategies(luaScript)
		if err != nil {
			log.WithError(err).Fatal("loading lua mutation script")
		}
	}

	fz := fuzzer.New(cfg, img, corp, crsh, extra)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, stopping workers")
		cancel()
	}()
	defer cancel()

	if dashboard {
		go func() {
			if err := ui.Run(fz.Stats(), log); err != nil {
				log.WithError(err).Warn("dashboard exited")
			}
		}()
	} else {
		go logPeriodically(ctx, fz, log)
	}

	if maxCases > 0 {
		go watchMaxCases(ctx, fz, maxCases, cancel)
	}

	log.WithFields(map[string]any{
		"elf":     elfPath,
		"workers": cfg.Workers,
	}).Info("starting fuzzer")

	if err := fz.Run(ctx); err != nil {
		return fmt.Errorf("fuzzer run: %w", err)
	}
	return nil
}

func logPeriodically(ctx context.Context, fz *fuzzer.Fuzzer, log interface {
	Info(args ...any)
}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info(fz.Stats().Snap().Line())
		}
	}
}

// watchMaxCases cancels the run once the shared case counter reaches
// limit, implementing the --max-cases flag named in §6.
func watchMaxCases(ctx context.Context, fz *fuzzer.Fuzzer, limit uint64, cancel context.CancelFunc) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if fz.Stats().Snap().Cases >= limit {
				cancel()
				return
			}
		}
	}
}
