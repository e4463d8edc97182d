package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/coursestore-backend/internal/modulestore/docstore/gormstore"
)

// AutoMigrateAll creates or updates the block documents, the child index and the
// per-course asset table.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(gormstore.Models()...)
}
