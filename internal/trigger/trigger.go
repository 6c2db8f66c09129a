package trigger

import (
	"sync"
	"time"

	"packrat/internal/logger"

	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	TimerPending
	Running
)

func (s State) String() string {
	switch s {
	case TimerPending:
		return "timer_pending"
	case Running:
		return "running"
	default:
		return "idle"
	}
}

// Coordinator merges activity signals into single run requests. Each signal
// in TimerPending replaces the pending timer with a fresh full window; the
// window is never extended in place. At fire time the minimum-interval and
// readiness gates run before the run func is invoked.
type Coordinator struct {
	window      time.Duration
	minInterval time.Duration

	// lastRun reports the most recent successful run, if any.
	lastRun func() (time.Time, bool)
	// ready probes the environment (e.g. backup medium attached). A false
	// result skips silently; the next signal retries.
	ready func() bool
	run   func()

	mu           sync.Mutex
	state        State
	timer        *time.Timer
	signalWhile  bool
	lastActivity time.Time
	log          *zap.Logger
}

func New(window, minInterval time.Duration, lastRun func() (time.Time, bool), ready func() bool, run func()) *Coordinator {
	return &Coordinator{
		window:      window,
		minInterval: minInterval,
		lastRun:     lastRun,
		ready:       ready,
		run:         run,
		log:         logger.Log,
	}
}

// Signal records activity and advances the state machine.
func (c *Coordinator) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivity = time.Now()

	switch c.state {
	case Idle:
		c.state = TimerPending
		c.timer = time.AfterFunc(c.window, c.fire)

	case TimerPending:
		// Reset, not extend: cancel and restart with the full window.
		c.timer.Stop()
		c.timer = time.AfterFunc(c.window, c.fire)

	case Running:
		// Remember the activity so a follow-up window starts on
		// completion. The window is measured from completion time, not
		// from this signal.
		c.signalWhile = true
	}
}

func (c *Coordinator) fire() {
	c.mu.Lock()
	if c.state != TimerPending {
		c.mu.Unlock()
		return
	}
	c.state = Running
	c.mu.Unlock()

	c.runGated()
	c.complete()
}

func (c *Coordinator) runGated() {
	if last, ok := c.lastRun(); ok && c.minInterval > 0 {
		if since := time.Since(last); since < c.minInterval {
			c.log.Debug("skipping run, last backup too recent",
				zap.Duration("since", since),
				zap.Duration("min_interval", c.minInterval))
			return
		}
	}

	if c.ready != nil && !c.ready() {
		// Silent skip: a detached medium is not an error, the next
		// signal simply tries again.
		c.log.Debug("environment not ready, skipping run")
		return
	}

	c.run()
}

// complete returns to Idle, or starts a fresh full debounce window when
// activity arrived mid-run.
func (c *Coordinator) complete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Idle
	if c.signalWhile {
		c.signalWhile = false
		c.state = TimerPending
		c.timer = time.AfterFunc(c.window, c.fire)
	}
}

// FireOnSessionBoundary forces an immediate run when the elapsed time since
// the last recorded activity exceeds the idle threshold, bypassing the
// debounce window but not the gates.
func (c *Coordinator) FireOnSessionBoundary(lastActivity time.Time, idleThreshold time.Duration) {
	if lastActivity.IsZero() || time.Since(lastActivity) < idleThreshold {
		return
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return
	}
	c.state = Running
	c.mu.Unlock()

	c.log.Info("session boundary detected, running immediately",
		zap.Time("last_activity", lastActivity))

	c.runGated()
	c.complete()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActivity returns the time of the most recent signal.
func (c *Coordinator) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Stop cancels any pending timer.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state == TimerPending {
		c.state = Idle
	}
}
