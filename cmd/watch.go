package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"packrat/internal/daemon"
	"packrat/internal/heartbeat"
	"packrat/internal/logger"
	"packrat/internal/pipeline"
	"packrat/internal/registry"
	"packrat/internal/runlock"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch a project directory and back it up on activity",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	repo := registry.NewRepository(gdb)
	project, err := repo.Register(path)
	if err != nil {
		return err
	}

	runner, err := pipeline.NewExecRunner(cfg.PipelineCmd)
	if err != nil {
		return err
	}

	locks := runlock.NewManager(cfg.StateDir, cfg.LockAbandonAfter, cfg.ForceGrace)
	hb := heartbeat.NewPublisher(cfg.StateDir)

	d := daemon.New(cfg, project, repo, locks, runner, hb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Log.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	return d.Run(ctx)
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
