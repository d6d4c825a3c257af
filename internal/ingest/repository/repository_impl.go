package repository

import (
	"context"

	"github.com/smallbiznis/corehours/internal/ingest/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, file *domain.ProcessedFile) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "filename"}},
			DoUpdates: clause.AssignmentColumns([]string{"checksum", "last_processed"}),
		}).
		Create(file).Error
}

func (r *repo) Checksums(ctx context.Context, db *gorm.DB) (map[string]string, error) {
	files, err := r.List(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(files))
	for _, f := range files {
		out[f.Filename] = f.Checksum
	}
	return out, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.ProcessedFile, error) {
	var files []domain.ProcessedFile
	err := db.WithContext(ctx).Order("filename asc").Find(&files).Error
	return files, err
}

func (r *repo) DeleteAll(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.ProcessedFile{})
	return res.RowsAffected, res.Error
}
