package sweep

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

	"go.uber.org/zap"
)

// sweepLockID guards against two concurrent sweeps. Per-project run locks
// are separate; a sweep and a single run for different projects may overlap.
const sweepLockID = "sweep"

const orphanReapEvery = 24 * time.Hour

// Summary tallies one sweep over the registry.
type Summary struct {
	BackedUp int
	Warnings int
	Failed   int
	Skipped  int
	Total    int
}

// AggregateStatus maps the tallies to the final heartbeat status.
func (s Summary) AggregateStatus() heartbeat.Status {
	succeeded := s.BackedUp + s.Warnings
	switch {
	case s.Failed > 0:
		return heartbeat.StatusError
	case s.Skipped > 0 && succeeded == 0:
		return heartbeat.StatusStale
	default:
		return heartbeat.StatusHealthy
	}
}

// Orchestrator iterates the project registry sequentially, composing the run
// lock, execution pipeline, heartbeat, and retention engine per project.
// Projects are intentionally not processed in parallel; independent projects
// contend on the same external media.
type Orchestrator struct {
	cfg    *config.Config
	repo   *registry.Repository
	locks  *runlock.Manager
	runner pipeline.Runner
	hb     *heartbeat.Publisher
	tiers  []retention.Tier
	log    *zap.Logger
}

func New(cfg *config.Config, repo *registry.Repository, locks *runlock.Manager, runner pipeline.Runner, hb *heartbeat.Publisher) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		repo:   repo,
		locks:  locks,
		runner: runner,
		hb:     hb,
		tiers:  retention.DefaultTiers(),
		log:    logger.Log,
	}
}

// Run performs one sweep. force preempts a concurrent sweep holder and is
// forwarded to the pipeline to bypass its internal interval gating.
func (o *Orchestrator) Run(ctx context.Context, force bool) (Summary, error) {
	mode := runlock.ModeNormal
	if force {
		mode = runlock.ModeForce
	}

	lease, err := o.locks.Acquire(sweepLockID, mode)
	if err != nil {
		var busy *runlock.BusyError
		if errors.As(err, &busy) {
			return Summary{}, fmt.Errorf("sweep already in progress (pid %d)", busy.OwnerPID)
		}
		return Summary{}, err
	}
	runlock.ReleaseOnSignal(lease)
	defer lease.Release()

	projects, err := o.repo.All()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list projects: %w", err)
	}

	summary := Summary{Total: len(projects)}
	o.log.Info("sweep started", zap.Int("projects", len(projects)))

	for i, p := range projects {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		o.publishProgress(summary, i, p.Name)

		status := o.processProject(ctx, p, force)
		switch status {
		case model.RunBackedUp:
			summary.BackedUp++
		case model.RunWithWarnings:
			summary.Warnings++
		case model.RunFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}

		o.publishProgress(summary, i+1, p.Name)
	}

	o.publishFinal(summary)
	o.maybeReapOrphans()

	o.log.Info("sweep finished",
		zap.Int("backed_up", summary.BackedUp),
		zap.Int("warnings", summary.Warnings),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))

	return summary, nil
}

// processProject handles one project; every failure is local to the project
// and never aborts the sweep.
func (o *Orchestrator) processProject(ctx context.Context, p model.Project, force bool) model.RunStatus {
	if _, err := os.Stat(p.Path); err != nil {
		o.log.Info("project directory missing, skipping",
			zap.String("project", p.Name),
			zap.String("path", p.Path))
		return model.RunSkipped
	}

	lease, err := o.locks.Acquire(p.ProjectID, runlock.ModeNormal)
	if err != nil {
		var busy *runlock.BusyError
		if errors.As(err, &busy) {
			o.log.Info("project locked by another run, skipping",
				zap.String("project", p.Name),
				zap.Int("owner_pid", busy.OwnerPID))
			return model.RunSkipped
		}
		o.log.Error("failed to acquire project lock",
			zap.String("project", p.Name),
			zap.Error(err))
		return model.RunFailed
	}
	defer lease.Release()

	started := time.Now()
	res := o.runner.Run(ctx, p, force)

	rec := model.RunRecord{
		ProjectID: p.ProjectID,
		Status:    res.Status,
		ExitCode:  res.ExitCode,
		ErrMsg:    res.ErrMsg,
		StartedAt: started,
		Duration:  time.Since(started),
	}

	if res.Status.Succeeded() {
		store := snapshot.NewStore(o.cfg.BackupRoot, p.Name)
		files, countErr := store.CountMirrorFiles()
		if countErr == nil {
			rec.Files = files
		}

		if err := o.repo.Touch(p.ProjectID, time.Now(), rec.Files); err != nil {
			o.log.Warn("failed to update last backup time",
				zap.String("project", p.Name),
				zap.Error(err))
		}

		o.maintainRetention(p, store)
	}

	if err := o.repo.RecordRun(rec); err != nil {
		o.log.Warn("failed to record run",
			zap.String("project", p.Name),
			zap.Error(err))
	}

	return res.Status
}

// maintainRetention ages the project's archive down under the tier ladder.
func (o *Orchestrator) maintainRetention(p model.Project, store *snapshot.Store) {
	entries, err := store.ScanArchive()
	if err != nil {
		o.log.Warn("failed to scan archive",
			zap.String("project", p.Name),
			zap.Error(err))
		return
	}

	plan := retention.BuildPlan(entries, time.Now(), o.tiers)
	if len(plan.Delete) == 0 {
		return
	}

	removed, err := store.Apply(plan.Delete)
	if err != nil {
		o.log.Warn("retention apply failed",
			zap.String("project", p.Name),
			zap.Error(err))
		return
	}

	o.log.Info("aged out old snapshots",
		zap.String("project", p.Name),
		zap.Int("removed", removed),
		zap.Int64("freed_bytes", plan.FreedBytes))
}

func (o *Orchestrator) publishProgress(s Summary, index int, current string) {
	err := o.hb.Publish(heartbeat.Record{
		Status:                heartbeat.StatusSyncing,
		SyncingProjectIndex:   index,
		SyncingTotalProjects:  s.Total,
		SyncingCurrentProject: current,
		SyncingBackedUp:       s.BackedUp + s.Warnings,
		SyncingFailed:         s.Failed,
		SyncingSkipped:        s.Skipped,
	})
	if err != nil {
		o.log.Warn("failed to publish progress heartbeat", zap.Error(err))
	}
}

func (o *Orchestrator) publishFinal(s Summary) {
	rec := heartbeat.Record{
		Status:          s.AggregateStatus(),
		LastBackup:      time.Now().Unix(),
		SyncingBackedUp: s.BackedUp + s.Warnings,
		SyncingFailed:   s.Failed,
		SyncingSkipped:  s.Skipped,
	}
	if s.Failed > 0 {
		rec.Error = fmt.Sprintf("%d project(s) failed", s.Failed)
	}

	if err := o.hb.Publish(rec); err != nil {
		o.log.Warn("failed to publish final heartbeat", zap.Error(err))
	}
}

// maybeReapOrphans removes registry entries whose directory vanished, at
// most once per reap interval. The gate is a stamp file so a wiped database
// never suppresses the reap.
func (o *Orchestrator) maybeReapOrphans() {
	stamp := filepath.Join(o.cfg.StateDir, "orphan-reap.stamp")

	if info, err := os.Stat(stamp); err == nil {
		if time.Since(info.ModTime()) < orphanReapEvery {
			return
		}
	}

	reaped, err := o.repo.ReapOrphans()
	if err != nil {
		o.log.Warn("orphan reap failed", zap.Error(err))
		return
	}
	if reaped > 0 {
		o.log.Info("reaped orphaned projects", zap.Int("count", reaped))
	}

	if err := os.WriteFile(stamp, nil, 0644); err != nil {
		o.log.Warn("failed to write reap stamp", zap.Error(err))
	}
}
