package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// Upsert inserts or replaces the checksum row keyed by filename.
	Upsert(ctx context.Context, db *gorm.DB, file *ProcessedFile) error
	Checksums(ctx context.Context, db *gorm.DB) (map[string]string, error)
	List(ctx context.Context, db *gorm.DB) ([]ProcessedFile, error)
	DeleteAll(ctx context.Context, db *gorm.DB) (int64, error)
}
