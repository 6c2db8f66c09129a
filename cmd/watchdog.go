package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"packrat/internal/daemonctl"
	"packrat/internal/heartbeat"
	"packrat/internal/logger"
	"packrat/internal/notify"
	"packrat/internal/watchdog"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// watchdogServiceName is the watchdog's own unit; it is never restarted by
// itself.
const watchdogServiceName = "packrat-watchdog"

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Monitor the daemon heartbeat and restart dead daemons",
	RunE:  runWatchdog,
}

func runWatchdog(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	hb := heartbeat.NewPublisher(cfg.StateDir)

	mon := watchdog.New(watchdog.Options{
		HeartbeatPath:  hb.Path(),
		StatusPath:     heartbeat.WatchdogStatusPath(cfg.StateDir),
		Interval:       cfg.WatchdogInterval,
		StaleAfter:     cfg.HeartbeatStaleAfter,
		FailureCeiling: cfg.FailureCeiling,
		Lifecycle:      daemonctl.New(),
		Prefix:         cfg.ServicePrefix,
		SelfName:       watchdogServiceName,
		Notifier:       notify.Desktop{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Log.Info("watchdog shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(watchdogCmd)
}
