package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"packrat/internal/config"
	"packrat/internal/heartbeat"
	"packrat/internal/logger"
	"packrat/internal/model"
	"packrat/internal/pipeline"
	"packrat/internal/registry"
	"packrat/internal/retention"
	"packrat/internal/runlock"
	"packrat/internal/snapshot"
	"packrat/internal/trigger"
	"packrat/internal/watcher"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Daemon is the per-project watch process: it feeds filesystem activity into
// the trigger coordinator and runs backups through the run lock when the
// debounce window fires.
type Daemon struct {
	cfg     *config.Config
	project model.Project

	repo   *registry.Repository
	locks  *runlock.Manager
	runner pipeline.Runner
	hb     *heartbeat.Publisher

	guard  *flock.Flock
	source watcher.Source
	coord  *trigger.Coordinator
	server *Server

	stopCh chan struct{}
	log    *zap.Logger
}

func New(cfg *config.Config, project model.Project, repo *registry.Repository, locks *runlock.Manager, runner pipeline.Runner, hb *heartbeat.Publisher) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		project: project,
		repo:    repo,
		locks:   locks,
		runner:  runner,
		hb:      hb,
		guard:   flock.New(filepath.Join(cfg.StateDir, "watch-"+project.ProjectID+".flock")),
		stopCh:  make(chan struct{}, 1),
		log:     logger.Log.With(zap.String("project", project.Name)),
	}

	d.coord = trigger.New(
		cfg.DebounceWindow,
		cfg.MinInterval,
		d.lastSuccessfulRun,
		d.environmentReady,
		func() { d.runOnce(context.Background(), false) },
	)

	d.server = NewServer(d, cfg.DaemonPort)
	return d
}

// Run blocks until the context is cancelled or a stop is requested via the
// control server.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.guard.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire watch guard: %w", err)
	}
	if !ok {
		return fmt.Errorf("another watch daemon is already running for %s", d.project.Name)
	}
	defer func() {
		_ = d.guard.Unlock()
	}()

	src, err := watcher.Select(d.project.Path, watcher.Options{
		IgnoreList: d.cfg.IgnoreList,
		BufferSize: d.cfg.BufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to start event source: %w", err)
	}
	d.source = src
	defer func() {
		_ = d.source.Close()
	}()

	d.server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.server.Stop(shutdownCtx)
	}()

	d.log.Info("watching project",
		zap.String("path", d.project.Path),
		zap.Duration("debounce", d.cfg.DebounceWindow))

	// A long gap since the last recorded activity means a new work session
	// is starting; capture the state up front.
	d.coord.FireOnSessionBoundary(d.readActivityStamp(), d.cfg.IdleThreshold)

	defer d.coord.Stop()

	stampTicker := time.NewTicker(30 * time.Second)
	defer stampTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("watch daemon stopping")
			return nil

		case <-d.stopCh:
			d.log.Info("stop requested via control server")
			return nil

		case ev, ok := <-d.source.Events():
			if !ok {
				return fmt.Errorf("event source closed unexpectedly")
			}
			d.log.Debug("activity",
				zap.String("type", string(ev.Type)),
				zap.String("path", ev.Path))
			d.coord.Signal()

		case <-stampTicker.C:
			if last := d.coord.LastActivity(); !last.IsZero() {
				d.writeActivityStamp(last)
			}
		}
	}
}

// runOnce performs one backup run under the project's run lock.
func (d *Daemon) runOnce(ctx context.Context, force bool) {
	mode := runlock.ModeNormal
	if force {
		mode = runlock.ModeForce
	}

	lease, err := d.locks.Acquire(d.project.ProjectID, mode)
	if err != nil {
		var busy *runlock.BusyError
		if errors.As(err, &busy) {
			d.log.Info("backup already running, skipping",
				zap.Int("owner_pid", busy.OwnerPID))
			return
		}
		d.log.Error("failed to acquire run lock", zap.Error(err))
		return
	}
	defer lease.Release()

	d.publish(heartbeat.StatusSyncing, "")

	started := time.Now()
	res := d.runner.Run(ctx, d.project, force)

	rec := model.RunRecord{
		ProjectID: d.project.ProjectID,
		Status:    res.Status,
		ExitCode:  res.ExitCode,
		ErrMsg:    res.ErrMsg,
		StartedAt: started,
		Duration:  time.Since(started),
	}

	store := snapshot.NewStore(d.cfg.BackupRoot, d.project.Name)
	if res.Status.Succeeded() {
		if files, err := store.CountMirrorFiles(); err == nil {
			rec.Files = files
		}
		if err := d.repo.Touch(d.project.ProjectID, time.Now(), rec.Files); err != nil {
			d.log.Warn("failed to update last backup time", zap.Error(err))
		}

		d.maintainRetention(store)
		d.publish(heartbeat.StatusHealthy, "")
	} else {
		d.publish(heartbeat.StatusError, rec.ErrMsg)
	}

	if err := d.repo.RecordRun(rec); err != nil {
		d.log.Warn("failed to record run", zap.Error(err))
	}

	d.log.Info("backup run finished",
		zap.String("status", string(res.Status)),
		zap.Duration("took", rec.Duration),
		zap.Int("files", rec.Files))
}

func (d *Daemon) maintainRetention(store *snapshot.Store) {
	entries, err := store.ScanArchive()
	if err != nil {
		d.log.Warn("failed to scan archive", zap.Error(err))
		return
	}

	plan := retention.BuildPlan(entries, time.Now(), retention.DefaultTiers())
	if len(plan.Delete) == 0 {
		return
	}

	if removed, err := store.Apply(plan.Delete); err != nil {
		d.log.Warn("retention apply failed", zap.Error(err))
	} else {
		d.log.Info("aged out old snapshots",
			zap.Int("removed", removed),
			zap.Int64("freed_bytes", plan.FreedBytes))
	}
}

func (d *Daemon) publish(status heartbeat.Status, errMsg string) {
	rec := heartbeat.Record{
		Status:  status,
		Project: d.project.Name,
		Error:   errMsg,
	}

	if p, err := d.repo.Get(d.project.ProjectID); err == nil && p.LastBackupAt != nil {
		rec.LastBackup = p.LastBackupAt.Unix()
		rec.LastBackupFiles = p.LastBackupFiles
	}

	if err := d.hb.Publish(rec); err != nil {
		d.log.Warn("failed to publish heartbeat", zap.Error(err))
	}
}

func (d *Daemon) lastSuccessfulRun() (time.Time, bool) {
	rec, err := d.repo.LastSuccessfulRun(d.project.ProjectID)
	if err != nil || rec == nil {
		return time.Time{}, false
	}
	return rec.StartedAt, true
}

// environmentReady gates runs on the backup medium being present. Absence
// is not an error; the run is skipped and the next signal retries.
func (d *Daemon) environmentReady() bool {
	_, err := os.Stat(d.cfg.BackupRoot)
	return err == nil
}

func (d *Daemon) activityStampPath() string {
	return filepath.Join(d.cfg.StateDir, "activity-"+d.project.ProjectID+".stamp")
}

func (d *Daemon) readActivityStamp() time.Time {
	info, err := os.Stat(d.activityStampPath())
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (d *Daemon) writeActivityStamp(at time.Time) {
	path := d.activityStampPath()
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return
	}
	_ = os.Chtimes(path, at, at)
}
