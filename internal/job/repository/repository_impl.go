package repository

import (
	"context"

	"github.com/smallbiznis/corehours/internal/job/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) BatchInsert(ctx context.Context, db *gorm.DB, jobs []*domain.Job, batchSize int) error {
	if len(jobs) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return db.WithContext(ctx).CreateInBatches(jobs, batchSize).Error
}

func (r *repo) ExistingJobIDs(ctx context.Context, db *gorm.DB, sourceFile string) (map[string]struct{}, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("source_file = ?", sourceFile).
		Pluck("job_id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (r *repo) DeleteBySourceFile(ctx context.Context, db *gorm.DB, sourceFile string) (int64, error) {
	res := db.WithContext(ctx).Where("source_file = ?", sourceFile).Delete(&domain.Job{})
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteAll(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.Job{})
	return res.RowsAffected, res.Error
}
