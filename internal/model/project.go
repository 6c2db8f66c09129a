package model

import (
	"time"

	"gorm.io/gorm"
)

type Project struct {
	gorm.Model
	ProjectID       string `gorm:"uniqueIndex;not null"`
	Name            string `gorm:"not null"`
	Path            string `gorm:"uniqueIndex;not null"`
	LastBackupAt    *time.Time
	LastBackupFiles int
}

type RunStatus string

const (
	RunBackedUp     RunStatus = "BACKED_UP"
	RunWithWarnings RunStatus = "BACKED_UP_WITH_WARNINGS"
	RunFailed       RunStatus = "FAILED"
	RunSkipped      RunStatus = "SKIPPED"
)

// Succeeded reports whether the run counts as a success for aggregate status.
func (s RunStatus) Succeeded() bool {
	return s == RunBackedUp || s == RunWithWarnings
}

type RunRecord struct {
	gorm.Model
	ProjectID string    `gorm:"index;not null"`
	Status    RunStatus `gorm:"not null"`
	ExitCode  int
	Files     int
	ErrMsg    string
	StartedAt time.Time `gorm:"not null"`
	Duration  time.Duration
}
