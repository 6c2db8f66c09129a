package db

import (
	"fmt"
	"packrat/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Open(dbPath string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := gdb.AutoMigrate(&model.Project{}, &model.RunRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return gdb, nil
}
