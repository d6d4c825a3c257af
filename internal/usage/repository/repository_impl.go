package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jobdomain "github.com/smallbiznis/corehours/internal/job/domain"
	"github.com/smallbiznis/corehours/internal/usage/domain"
	"gorm.io/gorm"
)

const resourceSecondsExpr = "CASE WHEN resource_type = 'CPU' THEN run_time_seconds * nodes " +
	"WHEN resource_type = 'GPU' THEN run_time_seconds * cores ELSE 0 END"

var failedStatusExpr = fmt.Sprintf("CASE WHEN job_status IN ('%s') THEN 1 ELSE 0 END",
	strings.Join(domain.FailedStatuses, "','"))

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func jobs(ctx context.Context, db *gorm.DB, f domain.Filter) *gorm.DB {
	stmt := db.WithContext(ctx).Model(&jobdomain.Job{})
	from, to := f.Window()
	if !from.IsZero() {
		stmt = stmt.Where("start_time >= ?", from)
	}
	if !to.IsZero() {
		stmt = stmt.Where("start_time < ?", to)
	}
	if v := strings.TrimSpace(f.User); v != "" {
		stmt = stmt.Where("user_name = ?", v)
	}
	if v := strings.TrimSpace(f.Group); v != "" {
		stmt = stmt.Where("user_group = ?", v)
	}
	if v := strings.TrimSpace(f.Queue); v != "" {
		stmt = stmt.Where("queue = ?", v)
	}
	if v := strings.TrimSpace(f.Wallet); v != "" {
		stmt = stmt.Where("wallet_name = ?", v)
	}
	if v := strings.TrimSpace(f.ResourceType); v != "" {
		stmt = stmt.Where("resource_type = ?", strings.ToUpper(v))
	}
	return stmt
}

func dimColumn(dim domain.Dimension) (string, error) {
	switch dim {
	case domain.DimUser, domain.DimGroup, domain.DimQueue, domain.DimWallet:
		return string(dim), nil
	default:
		return "", fmt.Errorf("unsupported dimension %q", dim)
	}
}

func (r *repo) Totals(ctx context.Context, db *gorm.DB, f domain.Filter) ([]domain.TypeTotal, error) {
	var rows []domain.TypeTotal
	err := jobs(ctx, db, f).
		Select("resource_type, COUNT(*) AS jobs, " +
			"COALESCE(SUM(run_time_seconds), 0) AS run_seconds, " +
			"COALESCE(SUM(" + resourceSecondsExpr + "), 0) AS resource_seconds").
		Group("resource_type").
		Order("resource_type").
		Scan(&rows).Error
	return rows, err
}

func (r *repo) UniqueUsers(ctx context.Context, db *gorm.DB, f domain.Filter) (int64, error) {
	var count int64
	err := jobs(ctx, db, f).Distinct("user_name").Count(&count).Error
	return count, err
}

func (r *repo) GroupBy(ctx context.Context, db *gorm.DB, f domain.Filter, dim domain.Dimension) ([]domain.DimTotal, error) {
	col, err := dimColumn(dim)
	if err != nil {
		return nil, err
	}
	var rows []domain.DimTotal
	err = jobs(ctx, db, f).
		Select("COALESCE(" + col + ", '') AS dim, resource_type, COUNT(*) AS jobs, " +
			"COALESCE(SUM(" + failedStatusExpr + "), 0) AS failed_jobs, " +
			"COALESCE(SUM(run_time_seconds), 0) AS run_seconds, " +
			"COALESCE(SUM(" + resourceSecondsExpr + "), 0) AS resource_seconds").
		Group(col + ", resource_type").
		Order(col + ", resource_type").
		Scan(&rows).Error
	return rows, err
}

func (r *repo) StatusCounts(ctx context.Context, db *gorm.DB, f domain.Filter) ([]domain.StatusCount, error) {
	var rows []domain.StatusCount
	err := jobs(ctx, db, f).
		Select("job_status AS status, COUNT(*) AS jobs").
		Group("job_status").
		Order("jobs DESC, job_status").
		Scan(&rows).Error
	return rows, err
}

func (r *repo) ScanTimes(ctx context.Context, db *gorm.DB, f domain.Filter, fn func(domain.TimeRow) error) error {
	rows, err := jobs(ctx, db, f).
		Select("queue, resource_type, queue_time, start_time, run_time_seconds, nodes, cores").
		Order("start_time").
		Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var j jobdomain.Job
		if err := db.ScanRows(rows, &j); err != nil {
			return err
		}
		if err := fn(domain.TimeRow{
			Queue:           j.Queue,
			ResourceType:    j.ResourceType,
			QueueTime:       j.QueueTime,
			StartTime:       j.StartTime,
			ResourceSeconds: j.ResourceSeconds(),
		}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *repo) FirstJob(ctx context.Context, db *gorm.DB) (*jobdomain.Job, error) {
	return r.edgeJob(ctx, db, "start_time ASC")
}

func (r *repo) LastJob(ctx context.Context, db *gorm.DB) (*jobdomain.Job, error) {
	return r.edgeJob(ctx, db, "start_time DESC")
}

func (r *repo) edgeJob(ctx context.Context, db *gorm.DB, order string) (*jobdomain.Job, error) {
	var job jobdomain.Job
	err := db.WithContext(ctx).Order(order).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *repo) ListJobs(ctx context.Context, db *gorm.DB, f domain.Filter, offset, limit int) ([]jobdomain.Job, int64, error) {
	var total int64
	if err := jobs(ctx, db, f).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []jobdomain.Job
	err := jobs(ctx, db, f).
		Order("start_time DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	return items, total, err
}

func (r *repo) Distinct(ctx context.Context, db *gorm.DB, dim domain.Dimension) ([]string, error) {
	col, err := dimColumn(dim)
	if err != nil {
		return nil, err
	}
	var values []string
	err = db.WithContext(ctx).
		Model(&jobdomain.Job{}).
		Where(col+" IS NOT NULL AND "+col+" <> ''").
		Distinct(col).
		Order(col).
		Pluck(col, &values).Error
	return values, err
}

func (r *repo) MaxRunTime(ctx context.Context, db *gorm.DB) (int64, error) {
	var longest int64
	err := db.WithContext(ctx).
		Model(&jobdomain.Job{}).
		Select("COALESCE(MAX(run_time_seconds), 0)").
		Scan(&longest).Error
	return longest, err
}

func (r *repo) StartedBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]jobdomain.Job, error) {
	var items []jobdomain.Job
	err := db.WithContext(ctx).
		Where("start_time > ? AND start_time <= ?", from, to).
		Find(&items).Error
	return items, err
}
