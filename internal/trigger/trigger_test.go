package trigger

import (
	"sync/atomic"
	"testing"
	"time"
)

func noLastRun() (time.Time, bool) { return time.Time{}, false }
func alwaysReady() bool            { return true }

func waitForRuns(t *testing.T, runs *atomic.Int32, want int32, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if runs.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("runs = %d, want %d within %v", runs.Load(), want, timeout)
}

func TestBurstCoalescesToSingleRun(t *testing.T) {
	var runs atomic.Int32
	c := New(80*time.Millisecond, 0, noLastRun, alwaysReady, func() { runs.Add(1) })
	defer c.Stop()

	for i := 0; i < 10; i++ {
		c.Signal()
		time.Sleep(10 * time.Millisecond)
	}

	waitForRuns(t, &runs, 1, time.Second)
	time.Sleep(150 * time.Millisecond)

	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want exactly 1", got)
	}
	if c.State() != Idle {
		t.Errorf("state = %v, want Idle", c.State())
	}
}

func TestSpacedSignalsRunSeparately(t *testing.T) {
	var runs atomic.Int32
	c := New(30*time.Millisecond, 0, noLastRun, alwaysReady, func() { runs.Add(1) })
	defer c.Stop()

	for i := 0; i < 3; i++ {
		c.Signal()
		time.Sleep(120 * time.Millisecond)
	}

	waitForRuns(t, &runs, 3, time.Second)
}

func TestSignalResetsPendingTimer(t *testing.T) {
	var runs atomic.Int32
	c := New(100*time.Millisecond, 0, noLastRun, alwaysReady, func() { runs.Add(1) })
	defer c.Stop()

	c.Signal()
	time.Sleep(60 * time.Millisecond)
	c.Signal() // restarts the full window

	// The original window would have fired by now; the reset one has not.
	time.Sleep(60 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Fatalf("runs = %d before the reset window elapsed", got)
	}

	waitForRuns(t, &runs, 1, time.Second)
}

func TestMinIntervalGateSkipsRun(t *testing.T) {
	var runs atomic.Int32
	recent := func() (time.Time, bool) { return time.Now(), true }

	c := New(20*time.Millisecond, time.Hour, recent, alwaysReady, func() { runs.Add(1) })
	defer c.Stop()

	c.Signal()
	time.Sleep(150 * time.Millisecond)

	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d, want 0 when last backup is too recent", got)
	}
	if c.State() != Idle {
		t.Errorf("state = %v, want Idle after gated skip", c.State())
	}
}

func TestReadinessGateSkipsSilently(t *testing.T) {
	var runs atomic.Int32
	notReady := func() bool { return false }

	c := New(20*time.Millisecond, 0, noLastRun, notReady, func() { runs.Add(1) })
	defer c.Stop()

	c.Signal()
	time.Sleep(150 * time.Millisecond)

	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d, want 0 when environment is not ready", got)
	}
	if c.State() != Idle {
		t.Errorf("state = %v, want Idle so the next signal retries", c.State())
	}
}

func TestSignalWhileRunningSchedulesFollowUp(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	var c *Coordinator
	c = New(20*time.Millisecond, 0, noLastRun, alwaysReady, func() {
		runs.Add(1)
		if runs.Load() == 1 {
			close(started)
			<-release
		}
	})
	defer c.Stop()

	c.Signal()
	<-started

	if c.State() != Running {
		t.Fatalf("state = %v, want Running", c.State())
	}
	c.Signal() // arrives mid-run
	close(release)

	waitForRuns(t, &runs, 2, time.Second)
}

func TestFireOnSessionBoundaryRunsImmediately(t *testing.T) {
	var runs atomic.Int32
	c := New(time.Hour, 0, noLastRun, alwaysReady, func() { runs.Add(1) })
	defer c.Stop()

	c.FireOnSessionBoundary(time.Now().Add(-5*time.Hour), 4*time.Hour)

	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1 after idle gap exceeded threshold", got)
	}
}

func TestFireOnSessionBoundaryRecentActivity(t *testing.T) {
	var runs atomic.Int32
	c := New(time.Hour, 0, noLastRun, alwaysReady, func() { runs.Add(1) })
	defer c.Stop()

	c.FireOnSessionBoundary(time.Now().Add(-time.Minute), 4*time.Hour)
	c.FireOnSessionBoundary(time.Time{}, 4*time.Hour)

	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d, want 0 for recent or unknown activity", got)
	}
}

func TestFireOnSessionBoundaryRespectsGates(t *testing.T) {
	var runs atomic.Int32
	recent := func() (time.Time, bool) { return time.Now(), true }

	c := New(time.Hour, time.Hour, recent, alwaysReady, func() { runs.Add(1) })
	defer c.Stop()

	c.FireOnSessionBoundary(time.Now().Add(-5*time.Hour), 4*time.Hour)

	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d, want 0 when the min-interval gate blocks", got)
	}
}

func TestStopCancelsPendingTimer(t *testing.T) {
	var runs atomic.Int32
	c := New(30*time.Millisecond, 0, noLastRun, alwaysReady, func() { runs.Add(1) })

	c.Signal()
	c.Stop()
	time.Sleep(100 * time.Millisecond)

	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d, want 0 after Stop", got)
	}
	if c.State() != Idle {
		t.Errorf("state = %v, want Idle after Stop", c.State())
	}
}

func TestLastActivityTracksSignals(t *testing.T) {
	c := New(time.Hour, 0, noLastRun, alwaysReady, func() {})
	defer c.Stop()

	if !c.LastActivity().IsZero() {
		t.Error("LastActivity should start zero")
	}

	before := time.Now()
	c.Signal()
	if c.LastActivity().Before(before) {
		t.Error("LastActivity not updated by Signal")
	}
}
