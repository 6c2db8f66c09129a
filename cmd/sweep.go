package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"packrat/internal/heartbeat"
	"packrat/internal/logger"
	"packrat/internal/pipeline"
	"packrat/internal/registry"
	"packrat/internal/runlock"
	"packrat/internal/sweep"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepForce bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Back up every registered project",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	repo := registry.NewRepository(gdb)

	runner, err := pipeline.NewExecRunner(cfg.PipelineCmd)
	if err != nil {
		return err
	}

	locks := runlock.NewManager(cfg.StateDir, cfg.LockAbandonAfter, cfg.ForceGrace)
	hb := heartbeat.NewPublisher(cfg.StateDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Log.Info("interrupting sweep", zap.String("signal", sig.String()))
		cancel()
	}()

	orch := sweep.New(cfg, repo, locks, runner, hb)
	summary, err := orch.Run(ctx, sweepForce)
	if err != nil {
		return err
	}

	fmt.Printf("sweep complete: %d backed up, %d with warnings, %d failed, %d skipped\n",
		summary.BackedUp, summary.Warnings, summary.Failed, summary.Skipped)

	if summary.Failed > 0 {
		return fmt.Errorf("%d project(s) failed", summary.Failed)
	}
	return nil
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepForce, "force", false, "Preempt an in-progress sweep and bypass interval gating")
	rootCmd.AddCommand(sweepCmd)
}
