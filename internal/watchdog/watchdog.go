package watchdog

import (
	"context"
	"fmt"
	"time"

	"packrat/internal/daemonctl"
	"packrat/internal/heartbeat"
	"packrat/internal/logger"
	"packrat/internal/notify"

	"go.uber.org/zap"
)

// Monitor polls the heartbeat file and restarts the supervised daemons after
// a run of consecutive stale or missing observations. A single missed
// heartbeat never triggers a restart.
type Monitor struct {
	heartbeatPath string
	statusPath    string
	interval      time.Duration
	staleAfter    time.Duration
	ceiling       int

	lifecycle daemonctl.Manager
	prefix    string
	// selfName is excluded from restarts; the watchdog never restarts itself.
	selfName string
	notifier notify.Notifier

	failures int
	log      *zap.Logger
}

type Options struct {
	HeartbeatPath  string
	StatusPath     string
	Interval       time.Duration
	StaleAfter     time.Duration
	FailureCeiling int

	Lifecycle daemonctl.Manager
	Prefix    string
	SelfName  string
	Notifier  notify.Notifier
}

func New(opts Options) *Monitor {
	if opts.FailureCeiling <= 0 {
		opts.FailureCeiling = 3
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}

	return &Monitor{
		heartbeatPath: opts.HeartbeatPath,
		statusPath:    opts.StatusPath,
		interval:      opts.Interval,
		staleAfter:    opts.StaleAfter,
		ceiling:       opts.FailureCeiling,
		lifecycle:     opts.Lifecycle,
		prefix:        opts.Prefix,
		selfName:      opts.SelfName,
		notifier:      opts.Notifier,
		log:           logger.Log,
	}
}

// Run blocks on a fixed-interval poll loop until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("watchdog started",
		zap.Duration("interval", m.interval),
		zap.Duration("stale_after", m.staleAfter),
		zap.Int("failure_ceiling", m.ceiling))

	m.Observe(time.Now())

	for {
		select {
		case <-ctx.Done():
			m.log.Info("watchdog stopped")
			return ctx.Err()
		case now := <-ticker.C:
			m.Observe(now)
		}
	}
}

// Observe performs one poll cycle.
func (m *Monitor) Observe(now time.Time) {
	rec, err := heartbeat.Read(m.heartbeatPath)
	cond := heartbeat.Classify(rec, err, now, m.staleAfter)
	fresh := err == nil && now.Sub(time.Unix(rec.Timestamp, 0)) < m.staleAfter

	switch {
	case cond == heartbeat.ConditionHealthy || cond == heartbeat.ConditionSyncing:
		if m.failures > 0 {
			m.log.Info("heartbeat recovered",
				zap.Int("after_failures", m.failures))
		}
		m.failures = 0

	case cond == heartbeat.ConditionError:
		// The publisher reported its own error; it is assumed to
		// self-recover and is surfaced as-is, never auto-restarted.
		m.log.Warn("daemon reported error status",
			zap.String("error", rec.Error))
		m.failures = 0

	case cond == heartbeat.ConditionStale && fresh:
		// A live publisher wrote the stale status itself, e.g. a sweep
		// that skipped everything. The write proves the process is up;
		// counting it would restart healthy daemons.
		m.log.Warn("daemon self-reported stale status")
		m.failures = 0

	default:
		m.failures++
		m.log.Warn("unhealthy heartbeat observation",
			zap.String("condition", string(cond)),
			zap.Int("consecutive", m.failures),
			zap.Int("ceiling", m.ceiling))

		if m.failures >= m.ceiling {
			m.restartAll(cond)
			m.failures = 0
		}
	}

	count := m.daemonCount()
	if err := heartbeat.WriteWatchdogStatus(m.statusPath, heartbeat.WatchdogRecord{
		Status:      cond,
		DaemonCount: count,
		LastCheck:   now.Unix(),
	}); err != nil {
		m.log.Warn("failed to write watchdog status", zap.Error(err))
	}
}

// Failures exposes the consecutive-failure counter.
func (m *Monitor) Failures() int {
	return m.failures
}

func (m *Monitor) daemonCount() int {
	names, err := m.lifecycle.List(m.prefix)
	if err != nil {
		return 0
	}
	return len(names)
}

func (m *Monitor) restartAll(cond heartbeat.Condition) {
	names, err := m.lifecycle.List(m.prefix)
	if err != nil {
		m.log.Error("failed to list services for restart", zap.Error(err))
		return
	}

	restarted := 0
	for _, name := range names {
		if name == m.selfName {
			continue
		}

		if err := m.lifecycle.Restart(name); err != nil {
			m.log.Error("failed to restart service",
				zap.String("service", name),
				zap.Error(err))
			continue
		}

		m.log.Info("restarted service", zap.String("service", name))
		restarted++
	}

	msg := fmt.Sprintf("heartbeat %s for %d consecutive checks, restarted %d service(s)",
		cond, m.ceiling, restarted)
	if err := m.notifier.Notify("packrat watchdog", msg); err != nil {
		m.log.Warn("failed to send notification", zap.Error(err))
	}
}
