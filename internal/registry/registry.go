package registry

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"packrat/internal/model"

	"gorm.io/gorm"
)

// Repository is the project registry. Projects are registered on first
// backup and reaped once their directory disappears.
type Repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) *Repository {
	return &Repository{db: gdb}
}

// ProjectID derives the stable identity of a project from its path and name.
func ProjectID(path, name string) string {
	sum := sha1.Sum([]byte(path + ":" + name))
	return hex.EncodeToString(sum[:])[:12]
}

// Register looks up the project for path, creating it on first sight.
func (r *Repository) Register(path string) (model.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return model.Project{}, fmt.Errorf("invalid project path: %w", err)
	}

	name := filepath.Base(abs)
	id := ProjectID(abs, name)

	var project model.Project
	err = r.db.Where("project_id = ?", id).First(&project).Error
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Project{}, err
	}

	project = model.Project{ProjectID: id, Name: name, Path: abs}
	if err := r.db.Create(&project).Error; err != nil {
		return model.Project{}, fmt.Errorf("failed to register project: %w", err)
	}

	return project, nil
}

func (r *Repository) All() ([]model.Project, error) {
	var projects []model.Project
	result := r.db.Order("created_at asc").Find(&projects)
	return projects, result.Error
}

func (r *Repository) Get(projectID string) (model.Project, error) {
	var project model.Project
	err := r.db.Where("project_id = ?", projectID).First(&project).Error
	return project, err
}

// Touch updates the last-backup bookkeeping after a successful run.
func (r *Repository) Touch(projectID string, at time.Time, files int) error {
	return r.db.Model(&model.Project{}).
		Where("project_id = ?", projectID).
		Updates(map[string]any{
			"last_backup_at":    at,
			"last_backup_files": files,
		}).Error
}

// ReapOrphans removes registry entries whose project directory no longer
// exists and returns how many were removed.
func (r *Repository) ReapOrphans() (int, error) {
	projects, err := r.All()
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, p := range projects {
		if _, err := os.Stat(p.Path); err == nil {
			continue
		}

		if err := r.db.Unscoped().Delete(&p).Error; err != nil {
			return reaped, fmt.Errorf("failed to reap project %s: %w", p.ProjectID, err)
		}
		reaped++
	}

	return reaped, nil
}

func (r *Repository) RecordRun(rec model.RunRecord) error {
	return r.db.Create(&rec).Error
}

// LastSuccessfulRun returns the most recent run that counts as a success,
// or nil when the project has never completed a backup.
func (r *Repository) LastSuccessfulRun(projectID string) (*model.RunRecord, error) {
	var rec model.RunRecord
	err := r.db.
		Where("project_id = ? AND status IN ?", projectID,
			[]model.RunStatus{model.RunBackedUp, model.RunWithWarnings}).
		Order("started_at desc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) RecentRuns(projectID string, limit int) ([]model.RunRecord, error) {
	var recs []model.RunRecord
	q := r.db.Order("started_at desc").Limit(limit)
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}
	result := q.Find(&recs)
	return recs, result.Error
}
