package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Status string

const (
	StatusHealthy Status = "healthy"
	StatusSyncing Status = "syncing"
	StatusStale   Status = "stale"
	StatusError   Status = "error"
)

// Condition is what a consumer concludes from reading the record; it adds
// the cases a publisher can never write about itself.
type Condition string

const (
	ConditionHealthy Condition = "healthy"
	ConditionSyncing Condition = "syncing"
	ConditionStale   Condition = "stale"
	ConditionError   Condition = "error"
	ConditionMissing Condition = "missing"
)

// Record is the published liveness/status snapshot. The Syncing fields are
// only populated during a sweep.
type Record struct {
	Timestamp       int64  `json:"timestamp"`
	Status          Status `json:"status"`
	Project         string `json:"project,omitempty"`
	LastBackup      int64  `json:"last_backup,omitempty"`
	LastBackupFiles int    `json:"last_backup_files,omitempty"`
	Error           string `json:"error,omitempty"`
	Pid             int    `json:"pid"`

	SyncingProjectIndex   int    `json:"syncing_project_index,omitempty"`
	SyncingTotalProjects  int    `json:"syncing_total_projects,omitempty"`
	SyncingCurrentProject string `json:"syncing_current_project,omitempty"`
	SyncingBackedUp       int    `json:"syncing_backed_up,omitempty"`
	SyncingFailed         int    `json:"syncing_failed,omitempty"`
	SyncingSkipped        int    `json:"syncing_skipped,omitempty"`
}

// WatchdogRecord is the watchdog's own status file.
type WatchdogRecord struct {
	Status      Condition `json:"status"`
	DaemonCount int       `json:"daemon_count"`
	LastCheck   int64     `json:"last_check"`
	Pid         int       `json:"pid"`
}

// Publisher overwrites a single heartbeat file atomically. A concurrent
// reader sees either the previous record or the new one, never a mix.
type Publisher struct {
	path string
}

func NewPublisher(stateDir string) *Publisher {
	return &Publisher{path: filepath.Join(stateDir, "heartbeat.json")}
}

func (p *Publisher) Path() string {
	return p.path
}

func (p *Publisher) Publish(rec Record) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	if rec.Pid == 0 {
		rec.Pid = os.Getpid()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	return writeAtomic(p.path, data)
}

func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("malformed heartbeat file: %w", err)
	}

	return rec, nil
}

// Classify maps a read attempt to the consumer-side condition.
func Classify(rec Record, readErr error, now time.Time, staleAfter time.Duration) Condition {
	if readErr != nil {
		return ConditionMissing
	}

	if rec.Status == StatusError {
		return ConditionError
	}

	age := now.Sub(time.Unix(rec.Timestamp, 0))
	if age >= staleAfter {
		return ConditionStale
	}

	switch rec.Status {
	case StatusSyncing:
		return ConditionSyncing
	case StatusStale:
		return ConditionStale
	default:
		return ConditionHealthy
	}
}

func WatchdogStatusPath(stateDir string) string {
	return filepath.Join(stateDir, "watchdog.json")
}

func WriteWatchdogStatus(path string, rec WatchdogRecord) error {
	if rec.LastCheck == 0 {
		rec.LastCheck = time.Now().Unix()
	}
	if rec.Pid == 0 {
		rec.Pid = os.Getpid()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal watchdog status: %w", err)
	}

	return writeAtomic(path, data)
}

func ReadWatchdogStatus(path string) (WatchdogRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WatchdogRecord{}, err
	}

	var rec WatchdogRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return WatchdogRecord{}, fmt.Errorf("malformed watchdog status: %w", err)
	}

	return rec, nil
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place, so readers never observe partial content.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".heartbeat-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
