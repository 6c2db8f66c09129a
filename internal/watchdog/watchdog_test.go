package watchdog

import (
	"path/filepath"
	"testing"
	"time"

	"packrat/internal/daemonctl"
	"packrat/internal/heartbeat"
)

type fakeLifecycle struct {
	units     []string
	restarted []string
}

func (f *fakeLifecycle) Install(daemonctl.Service) error { return nil }
func (f *fakeLifecycle) Uninstall(string) error          { return nil }

func (f *fakeLifecycle) Restart(name string) error {
	f.restarted = append(f.restarted, name)
	return nil
}

func (f *fakeLifecycle) Status(name string) (daemonctl.ServiceStatus, error) {
	return daemonctl.ServiceStatus{Name: name, Installed: true, Active: true}, nil
}

func (f *fakeLifecycle) List(prefix string) ([]string, error) {
	return f.units, nil
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(title, body string) error {
	f.messages = append(f.messages, body)
	return nil
}

func newTestMonitor(t *testing.T, lc *fakeLifecycle, nt *fakeNotifier) (*Monitor, *heartbeat.Publisher) {
	t.Helper()
	dir := t.TempDir()
	pub := heartbeat.NewPublisher(dir)

	m := New(Options{
		HeartbeatPath:  pub.Path(),
		StatusPath:     heartbeat.WatchdogStatusPath(dir),
		Interval:       time.Minute,
		StaleAfter:     2 * time.Hour,
		FailureCeiling: 3,
		Lifecycle:      lc,
		Prefix:         "packrat-",
		SelfName:       "packrat-watchdog",
		Notifier:       nt,
	})
	return m, pub
}

func TestRestartAfterConsecutiveMisses(t *testing.T) {
	lc := &fakeLifecycle{units: []string{"packrat-watch-demo", "packrat-watchdog"}}
	nt := &fakeNotifier{}
	m, _ := newTestMonitor(t, lc, nt)

	now := time.Now()

	// Missing heartbeat: two observations stay below the ceiling.
	m.Observe(now)
	m.Observe(now)
	if len(lc.restarted) != 0 {
		t.Fatalf("restarted %v before reaching the ceiling", lc.restarted)
	}
	if m.Failures() != 2 {
		t.Fatalf("Failures = %d, want 2", m.Failures())
	}

	// Third observation hits the ceiling.
	m.Observe(now)
	if len(lc.restarted) != 1 || lc.restarted[0] != "packrat-watch-demo" {
		t.Fatalf("restarted = %v, want only the watch daemon", lc.restarted)
	}
	if m.Failures() != 0 {
		t.Errorf("Failures = %d, want reset to 0 after restart", m.Failures())
	}
	if len(nt.messages) != 1 {
		t.Errorf("notifications = %d, want 1", len(nt.messages))
	}

	// The counter restarted from zero: two more misses do nothing.
	m.Observe(now)
	m.Observe(now)
	if len(lc.restarted) != 1 {
		t.Errorf("restarted = %v, counter must restart from zero", lc.restarted)
	}
}

func TestHealthyObservationResetsCounter(t *testing.T) {
	lc := &fakeLifecycle{units: []string{"packrat-watch-demo"}}
	m, pub := newTestMonitor(t, lc, &fakeNotifier{})

	now := time.Now()
	m.Observe(now)
	m.Observe(now)

	if err := pub.Publish(heartbeat.Record{Status: heartbeat.StatusHealthy}); err != nil {
		t.Fatal(err)
	}
	m.Observe(now)
	if m.Failures() != 0 {
		t.Fatalf("Failures = %d, want 0 after healthy observation", m.Failures())
	}

	// The run of misses was broken; a fresh pair stays below the ceiling.
	if err := pub.Publish(heartbeat.Record{
		Timestamp: now.Add(-3 * time.Hour).Unix(),
		Status:    heartbeat.StatusHealthy,
	}); err != nil {
		t.Fatal(err)
	}
	m.Observe(now)
	m.Observe(now)
	if len(lc.restarted) != 0 {
		t.Errorf("restarted %v, consecutive counter should not carry across recovery", lc.restarted)
	}
}

func TestErrorStatusNeverRestarts(t *testing.T) {
	lc := &fakeLifecycle{units: []string{"packrat-watch-demo"}}
	m, pub := newTestMonitor(t, lc, &fakeNotifier{})

	if err := pub.Publish(heartbeat.Record{Status: heartbeat.StatusError, Error: "pipeline failed"}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	for i := 0; i < 5; i++ {
		m.Observe(now)
	}

	if len(lc.restarted) != 0 {
		t.Errorf("restarted %v, error status is surfaced but never restarted", lc.restarted)
	}
	if m.Failures() != 0 {
		t.Errorf("Failures = %d, error status must not count toward the ceiling", m.Failures())
	}
}

func TestSelfReportedStaleNeverRestarts(t *testing.T) {
	lc := &fakeLifecycle{units: []string{"packrat-watch-demo"}}
	m, pub := newTestMonitor(t, lc, &fakeNotifier{})

	// An all-skipped sweep publishes stale itself; the write proves the
	// publisher is alive.
	if err := pub.Publish(heartbeat.Record{Status: heartbeat.StatusStale}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	for i := 0; i < 5; i++ {
		m.Observe(now)
	}

	if len(lc.restarted) != 0 {
		t.Errorf("restarted %v, a fresh self-reported stale must not restart", lc.restarted)
	}
	if m.Failures() != 0 {
		t.Errorf("Failures = %d, fresh stale must not count toward the ceiling", m.Failures())
	}

	// Once the record ages past the threshold it counts like any dead
	// publisher.
	aged := now.Add(3 * time.Hour)
	for i := 0; i < 3; i++ {
		m.Observe(aged)
	}
	if len(lc.restarted) != 1 {
		t.Errorf("restarted = %v, aged stale record must still restart", lc.restarted)
	}
}

func TestObserveWritesStatusFile(t *testing.T) {
	lc := &fakeLifecycle{units: []string{"packrat-watch-a", "packrat-watch-b"}}
	m, pub := newTestMonitor(t, lc, &fakeNotifier{})

	if err := pub.Publish(heartbeat.Record{Status: heartbeat.StatusSyncing}); err != nil {
		t.Fatal(err)
	}
	m.Observe(time.Now())

	rec, err := heartbeat.ReadWatchdogStatus(filepath.Join(filepath.Dir(pub.Path()), "watchdog.json"))
	if err != nil {
		t.Fatalf("ReadWatchdogStatus: %v", err)
	}
	if rec.Status != heartbeat.ConditionSyncing {
		t.Errorf("Status = %v, want syncing", rec.Status)
	}
	if rec.DaemonCount != 2 {
		t.Errorf("DaemonCount = %d, want 2", rec.DaemonCount)
	}
}
