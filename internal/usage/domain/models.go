package domain

import (
	"errors"
	"fmt"
	"time"

	jobdomain "github.com/smallbiznis/corehours/internal/job/domain"
	"github.com/shopspring/decimal"
)

// Filter narrows usage queries. Empty string fields match everything.
// Start and End are calendar dates; End is inclusive.
type Filter struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	User         string    `json:"user,omitempty"`
	Group        string    `json:"group,omitempty"`
	Queue        string    `json:"queue,omitempty"`
	Wallet       string    `json:"wallet,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
}

// Window returns the half-open start_time range [from, to) covered by the filter.
func (f Filter) Window() (time.Time, time.Time) {
	from := truncateDay(f.Start)
	to := time.Time{}
	if !f.End.IsZero() {
		to = truncateDay(f.End).AddDate(0, 0, 1)
	}
	return from, to
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type Granularity string

const (
	Daily     Granularity = "daily"
	Monthly   Granularity = "monthly"
	Quarterly Granularity = "quarterly"
	Yearly    Granularity = "yearly"
)

// ParseGranularity falls back to Daily for unknown values.
func ParseGranularity(v string) Granularity {
	switch Granularity(v) {
	case Monthly, Quarterly, Yearly:
		return Granularity(v)
	default:
		return Daily
	}
}

// Bucket labels t as 2025-07-18, 2025-07, 2025-Q3 or 2025.
func (g Granularity) Bucket(t time.Time) string {
	t = t.UTC()
	switch g {
	case Monthly:
		return t.Format("2006-01")
	case Quarterly:
		return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	case Yearly:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02")
	}
}

type ResourceKPI struct {
	Hours             float64 `json:"hours"`
	Jobs              int64   `json:"jobs"`
	AvgRunTimeSeconds float64 `json:"avg_run_time_seconds"`
}

type KPI struct {
	CPU               ResourceKPI `json:"cpu"`
	GPU               ResourceKPI `json:"gpu"`
	TotalJobs         int64       `json:"total_jobs"`
	AvgRunTimeSeconds float64     `json:"avg_run_time_seconds"`
	UniqueUsers       int64       `json:"unique_users"`
	AvgWaitSeconds    float64     `json:"avg_wait_seconds"`
	// SuccessRate is the percentage of jobs with status COMPLETED.
	SuccessRate float64 `json:"success_rate"`
}

type UsagePoint struct {
	Period       string                 `json:"period"`
	ResourceType jobdomain.ResourceType `json:"resource_type"`
	Seconds      int64                  `json:"resource_seconds"`
	Hours        float64                `json:"hours"`
}

// Ranked is one row of a top-N or grouped resource-hours breakdown.
type Ranked struct {
	Name  string  `json:"name"`
	Hours float64 `json:"hours"`
}

type WalletHours struct {
	Wallet       string                 `json:"wallet"`
	ResourceType jobdomain.ResourceType `json:"resource_type"`
	Hours        float64                `json:"hours"`
}

type StatusCount struct {
	Status string `json:"status"`
	Jobs   int64  `json:"jobs"`
}

type QueueAverage struct {
	Queue   string  `json:"queue"`
	Seconds float64 `json:"seconds"`
}

type FailureRate struct {
	Name        string  `json:"name"`
	TotalJobs   int64   `json:"total_jobs"`
	FailedJobs  int64   `json:"failed_jobs"`
	FailureRate float64 `json:"failure_rate"`
}

type HeatmapCell struct {
	// DayOfWeek counts from Sunday = 0.
	DayOfWeek int   `json:"day_of_week"`
	Hour      int   `json:"hour"`
	Jobs      int64 `json:"jobs"`
}

type DateRange struct {
	First time.Time `json:"first"`
	Last  time.Time `json:"last"`
}

type JobPage struct {
	TotalItems int64           `json:"total_items"`
	TotalPages int64           `json:"total_pages"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	Jobs       []jobdomain.Job `json:"jobs"`
}

type ActiveResources struct {
	CPUNodes int64 `json:"active_cpu_nodes"`
	GPUCores int64 `json:"active_gpu_cores"`
}

type ReportRequest struct {
	// Month is YYYY-MM. It takes precedence over Year.
	Month  string `json:"month,omitempty"`
	Year   int    `json:"year,omitempty"`
	User   string `json:"user,omitempty"`
	Wallet string `json:"wallet,omitempty"`
}

type ReportRow struct {
	Wallet       string                 `json:"wallet"`
	ResourceType jobdomain.ResourceType `json:"resource_type"`
	Jobs         int64                  `json:"jobs"`
	Hours        decimal.Decimal        `json:"hours"`
}

type Report struct {
	Rows  []ReportRow     `json:"rows"`
	Total decimal.Decimal `json:"total_hours"`
}

// FailedStatuses are counted as failures by the failure-rate breakdowns.
var FailedStatuses = []string{
	jobdomain.StatusFailed,
	jobdomain.StatusTimeout,
	jobdomain.StatusUserCanceled,
}

var (
	ErrInvalidRange  = errors.New("invalid_date_range")
	ErrInvalidMonth  = errors.New("invalid_report_month")
	ErrInvalidLimit  = errors.New("invalid_limit")
	ErrInvalidPaging = errors.New("invalid_paging")
)
