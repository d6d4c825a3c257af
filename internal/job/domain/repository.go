package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	BatchInsert(ctx context.Context, db *gorm.DB, jobs []*Job, batchSize int) error
	ExistingJobIDs(ctx context.Context, db *gorm.DB, sourceFile string) (map[string]struct{}, error)
	DeleteBySourceFile(ctx context.Context, db *gorm.DB, sourceFile string) (int64, error)
	DeleteAll(ctx context.Context, db *gorm.DB) (int64, error)
}
