package domain

import (
	"context"
	"time"

	jobdomain "github.com/smallbiznis/corehours/internal/job/domain"
	"gorm.io/gorm"
)

// Dimension is a jobs column usage can be grouped by.
type Dimension string

const (
	DimUser   Dimension = "user_name"
	DimGroup  Dimension = "user_group"
	DimQueue  Dimension = "queue"
	DimWallet Dimension = "wallet_name"
)

// TypeTotal aggregates jobs of one resource type.
type TypeTotal struct {
	ResourceType    jobdomain.ResourceType
	Jobs            int64
	RunSeconds      int64
	ResourceSeconds int64
}

// DimTotal aggregates jobs sharing a dimension value and resource type.
type DimTotal struct {
	Dim             string
	ResourceType    jobdomain.ResourceType
	Jobs            int64
	FailedJobs      int64
	RunSeconds      int64
	ResourceSeconds int64
}

// TimeRow is the per-job projection streamed for time-based breakdowns.
type TimeRow struct {
	Queue           string
	ResourceType    jobdomain.ResourceType
	QueueTime       time.Time
	StartTime       time.Time
	ResourceSeconds int64
}

type Repository interface {
	Totals(ctx context.Context, db *gorm.DB, f Filter) ([]TypeTotal, error)
	UniqueUsers(ctx context.Context, db *gorm.DB, f Filter) (int64, error)
	GroupBy(ctx context.Context, db *gorm.DB, f Filter, dim Dimension) ([]DimTotal, error)
	StatusCounts(ctx context.Context, db *gorm.DB, f Filter) ([]StatusCount, error)
	ScanTimes(ctx context.Context, db *gorm.DB, f Filter, fn func(TimeRow) error) error
	FirstJob(ctx context.Context, db *gorm.DB) (*jobdomain.Job, error)
	LastJob(ctx context.Context, db *gorm.DB) (*jobdomain.Job, error)
	ListJobs(ctx context.Context, db *gorm.DB, f Filter, offset, limit int) ([]jobdomain.Job, int64, error)
	Distinct(ctx context.Context, db *gorm.DB, dim Dimension) ([]string, error)
	MaxRunTime(ctx context.Context, db *gorm.DB) (int64, error)
	// StartedBetween lists jobs with from < start_time <= to.
	StartedBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]jobdomain.Job, error)
}
