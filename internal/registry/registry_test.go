package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"packrat/internal/db"
	"packrat/internal/model"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "packrat.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return NewRepository(gdb)
}

func TestRegisterIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	dir := t.TempDir()

	first, err := repo.Register(dir)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if first.Name != filepath.Base(dir) {
		t.Errorf("Name = %q, want %q", first.Name, filepath.Base(dir))
	}
	if first.ProjectID != ProjectID(first.Path, first.Name) {
		t.Errorf("ProjectID not derived from path and name")
	}

	second, err := repo.Register(dir)
	if err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if second.ID != first.ID || second.ProjectID != first.ProjectID {
		t.Errorf("re-registration created a new row: %+v vs %+v", first, second)
	}

	all, err := repo.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("projects = %d, want 1", len(all))
	}
}

func TestProjectIDStable(t *testing.T) {
	a := ProjectID("/home/user/proj", "proj")
	b := ProjectID("/home/user/proj", "proj")
	if a != b {
		t.Errorf("ProjectID not deterministic: %s vs %s", a, b)
	}
	if len(a) != 12 {
		t.Errorf("ProjectID length = %d, want 12", len(a))
	}
	if a == ProjectID("/home/user/other", "proj") {
		t.Error("different paths must yield different ids")
	}
}

func TestTouchUpdatesBackupBookkeeping(t *testing.T) {
	repo := newTestRepository(t)
	p, err := repo.Register(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	at := time.Now().Truncate(time.Second)
	if err := repo.Touch(p.ProjectID, at, 7); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := repo.Get(p.ProjectID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastBackupAt == nil || !got.LastBackupAt.Equal(at) {
		t.Errorf("LastBackupAt = %v, want %v", got.LastBackupAt, at)
	}
	if got.LastBackupFiles != 7 {
		t.Errorf("LastBackupFiles = %d, want 7", got.LastBackupFiles)
	}
}

func TestReapOrphans(t *testing.T) {
	repo := newTestRepository(t)

	keep, err := repo.Register(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	gone := filepath.Join(t.TempDir(), "doomed")
	if err := os.MkdirAll(gone, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Register(gone); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(gone); err != nil {
		t.Fatal(err)
	}

	reaped, err := repo.ReapOrphans()
	if err != nil {
		t.Fatalf("ReapOrphans: %v", err)
	}
	if reaped != 1 {
		t.Errorf("reaped = %d, want 1", reaped)
	}

	all, err := repo.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ProjectID != keep.ProjectID {
		t.Errorf("surviving projects = %v, want only %s", all, keep.ProjectID)
	}
}

func TestLastSuccessfulRun(t *testing.T) {
	repo := newTestRepository(t)
	p, err := repo.Register(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rec, err := repo.LastSuccessfulRun(p.ProjectID)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatalf("expected nil for a project with no runs, got %+v", rec)
	}

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	runs := []model.RunRecord{
		{ProjectID: p.ProjectID, Status: model.RunBackedUp, StartedAt: base},
		{ProjectID: p.ProjectID, Status: model.RunWithWarnings, ExitCode: 2, StartedAt: base.Add(10 * time.Minute)},
		{ProjectID: p.ProjectID, Status: model.RunFailed, ExitCode: 1, StartedAt: base.Add(20 * time.Minute)},
		{ProjectID: p.ProjectID, Status: model.RunSkipped, StartedAt: base.Add(30 * time.Minute)},
	}
	for _, r := range runs {
		if err := repo.RecordRun(r); err != nil {
			t.Fatal(err)
		}
	}

	rec, err = repo.LastSuccessfulRun(p.ProjectID)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("expected a successful run")
	}
	// Warnings still count as success; failed and skipped do not.
	if rec.Status != model.RunWithWarnings {
		t.Errorf("Status = %v, want %v", rec.Status, model.RunWithWarnings)
	}
}

func TestRecentRuns(t *testing.T) {
	repo := newTestRepository(t)
	p, err := repo.Register(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 5; i++ {
		if err := repo.RecordRun(model.RunRecord{
			ProjectID: p.ProjectID,
			Status:    model.RunBackedUp,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := repo.RecentRuns(p.ProjectID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("recs = %d, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].StartedAt.After(recs[i-1].StartedAt) {
			t.Error("runs not ordered newest-first")
		}
	}
}
