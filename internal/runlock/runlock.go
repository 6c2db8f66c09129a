package runlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"packrat/internal/logger"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

type Mode int

const (
	// ModeNormal returns ErrBusy when a live owner holds the lock.
	ModeNormal Mode = iota
	// ModeForce terminates the owner, waits a bounded grace period, then
	// reclaims the lock regardless of confirmed exit. Best-effort: the
	// preempted process may still be flushing when the reclaim happens.
	ModeForce
)

type Outcome int

const (
	OutcomeAcquired Outcome = iota
	OutcomeReclaimed
)

// BusyError reports a lock held by a live owner.
type BusyError struct {
	ID       string
	OwnerPID int
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("lock %s held by pid %d", e.ID, e.OwnerPID)
}

// owner is the lock file payload. The start token pins the owner to one
// incarnation of its PID so a reused PID never reads as alive.
type owner struct {
	PID        int   `json:"pid"`
	StartToken int64 `json:"start_token"`
	CreatedAt  int64 `json:"created_at"`
}

// Manager hands out exclusive per-project execution locks backed by
// create-exclusive lock files.
type Manager struct {
	dir          string
	abandonAfter time.Duration
	forceGrace   time.Duration
	pollStep     time.Duration
}

func NewManager(stateDir string, abandonAfter, forceGrace time.Duration) *Manager {
	return &Manager{
		dir:          filepath.Join(stateDir, "locks"),
		abandonAfter: abandonAfter,
		forceGrace:   forceGrace,
		pollStep:     100 * time.Millisecond,
	}
}

func (m *Manager) lockPath(id string) string {
	return filepath.Join(m.dir, id+".lock")
}

// Acquire takes the lock for id or fails fast. It never blocks beyond the
// force grace period. The returned lease must be released on every exit
// path; registering it with ReleaseOnSignal covers signal-driven exits.
func (m *Manager) Acquire(id string, mode Mode) (*Lease, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}

	path := m.lockPath(id)
	outcome := OutcomeAcquired

	for {
		if err := m.tryCreate(path); err == nil {
			return newLease(id, path, outcome), nil
		} else if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		current, err := readOwner(path)
		if err != nil {
			// Unreadable or vanished mid-check; treat as stale.
			logger.Log.Warn("removing unreadable lock file",
				zap.String("id", id),
				zap.Error(err))
			_ = os.Remove(path)
			outcome = OutcomeReclaimed
			continue
		}

		if !m.live(current) {
			logger.Log.Info("reclaiming stale lock",
				zap.String("id", id),
				zap.Int("owner_pid", current.PID))
			_ = os.Remove(path)
			outcome = OutcomeReclaimed
			continue
		}

		if mode == ModeNormal {
			return nil, &BusyError{ID: id, OwnerPID: current.PID}
		}

		m.preempt(id, current)
		_ = os.Remove(path)
		outcome = OutcomeReclaimed
	}
}

func (m *Manager) tryCreate(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	self := owner{
		PID:        os.Getpid(),
		StartToken: selfStartToken(),
		CreatedAt:  time.Now().Unix(),
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(self); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	return f.Close()
}

// live reports whether the recorded owner process still exists as the same
// incarnation and the lock has not aged past the abandonment threshold.
func (m *Manager) live(o owner) bool {
	if m.abandonAfter > 0 && time.Since(time.Unix(o.CreatedAt, 0)) > m.abandonAfter {
		return false
	}

	p, err := process.NewProcess(int32(o.PID))
	if err != nil {
		return false
	}

	created, err := p.CreateTime()
	if err != nil {
		return false
	}

	return o.StartToken == 0 || created == o.StartToken
}

// preempt terminates the owner and polls for its exit in short increments.
// After the grace period it gives up waiting; the caller reclaims anyway.
func (m *Manager) preempt(id string, o owner) {
	logger.Log.Warn("force acquiring lock, terminating owner",
		zap.String("id", id),
		zap.Int("owner_pid", o.PID))

	if p, err := process.NewProcess(int32(o.PID)); err == nil {
		_ = p.Terminate()
	}

	deadline := time.Now().Add(m.forceGrace)
	for time.Now().Before(deadline) {
		if !m.live(o) {
			return
		}
		time.Sleep(m.pollStep)
	}

	logger.Log.Warn("owner did not exit within grace period, reclaiming anyway",
		zap.String("id", id),
		zap.Int("owner_pid", o.PID))
}

func readOwner(path string) (owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return owner{}, err
	}

	var o owner
	if err := json.Unmarshal(data, &o); err != nil {
		return owner{}, fmt.Errorf("malformed lock file: %w", err)
	}
	if o.PID <= 0 {
		return owner{}, errors.New("lock file has no owner pid")
	}

	return o, nil
}

func selfStartToken() int64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}

	created, err := p.CreateTime()
	if err != nil {
		return 0
	}

	return created
}

// Lease is a held lock. Release is idempotent and safe to call from a
// signal handler and a defer on the same lease.
type Lease struct {
	ID      string
	Outcome Outcome

	path string
	once sync.Once
}

func newLease(id, path string, outcome Outcome) *Lease {
	return &Lease{ID: id, Outcome: outcome, path: path}
}

func (l *Lease) Release() {
	l.once.Do(func() {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			logger.Log.Warn("failed to remove lock file",
				zap.String("id", l.ID),
				zap.Error(err))
		}
		unregister(l)
	})
}
