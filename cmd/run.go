package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"packrat/internal/heartbeat"
	"packrat/internal/logger"
	"packrat/internal/model"
	"packrat/internal/pipeline"
	"packrat/internal/registry"
	"packrat/internal/retention"
	"packrat/internal/runlock"
	"packrat/internal/snapshot"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runForce bool

var runCmd = &cobra.Command{
	Use:   "run [path]",
	Short: "Back up a project once, right now",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOnceCmd,
}

func runOnceCmd(cmd *cobra.Command, args []string) error {
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

	mode := runlock.ModeNormal
	if runForce {
		mode = runlock.ModeForce
	}

	lease, err := locks.Acquire(project.ProjectID, mode)
	if err != nil {
		var busy *runlock.BusyError
		if errors.As(err, &busy) {
			logger.Log.Info("backup already running, skipping",
				zap.Int("owner_pid", busy.OwnerPID))
			return nil
		}
		return err
	}
	runlock.ReleaseOnSignal(lease)
	defer lease.Release()

	hb := heartbeat.NewPublisher(cfg.StateDir)
	_ = hb.Publish(heartbeat.Record{
		Status:  heartbeat.StatusSyncing,
		Project: project.Name,
	})

	started := time.Now()
	res := runner.Run(context.Background(), project, runForce)

	rec := model.RunRecord{
		ProjectID: project.ProjectID,
		Status:    res.Status,
		ExitCode:  res.ExitCode,
		ErrMsg:    res.ErrMsg,
		StartedAt: started,
		Duration:  time.Since(started),
	}

	store := snapshot.NewStore(cfg.BackupRoot, project.Name)
	finalStatus := heartbeat.StatusHealthy
	if res.Status.Succeeded() {
		if files, countErr := store.CountMirrorFiles(); countErr == nil {
			rec.Files = files
		}
		if err := repo.Touch(project.ProjectID, time.Now(), rec.Files); err != nil {
			logger.Log.Warn("failed to update last backup time", zap.Error(err))
		}

		if entries, scanErr := store.ScanArchive(); scanErr == nil {
			plan := retention.BuildPlan(entries, time.Now(), retention.DefaultTiers())
			if len(plan.Delete) > 0 {
				if removed, applyErr := store.Apply(plan.Delete); applyErr == nil {
					logger.Log.Info("aged out old snapshots", zap.Int("removed", removed))
				}
			}
		}
	} else {
		finalStatus = heartbeat.StatusError
	}

	if err := repo.RecordRun(rec); err != nil {
		logger.Log.Warn("failed to record run", zap.Error(err))
	}

	_ = hb.Publish(heartbeat.Record{
		Status:  finalStatus,
		Project: project.Name,
		Error:   rec.ErrMsg,
	})

	if !res.Status.Succeeded() {
		return fmt.Errorf("backup failed: %s", rec.ErrMsg)
	}

	fmt.Printf("backed up %s (%d files, %s)\n",
		project.Name, rec.Files, rec.Duration.Round(time.Millisecond))
	return nil
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "Preempt a running backup and bypass interval gating")
	rootCmd.AddCommand(runCmd)
}
