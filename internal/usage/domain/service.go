package domain

import "context"

type Service interface {
	KPI(ctx context.Context, f Filter) (KPI, error)
	UsageOverTime(ctx context.Context, f Filter, g Granularity) ([]UsagePoint, error)
	TopUsers(ctx context.Context, f Filter, limit int) ([]Ranked, error)
	TopGroups(ctx context.Context, f Filter, limit int) ([]Ranked, error)
	TopWallets(ctx context.Context, f Filter, limit int) ([]Ranked, error)
	StatusDistribution(ctx context.Context, f Filter) ([]StatusCount, error)
	UsageByQueue(ctx context.Context, f Filter) ([]Ranked, error)
	AvgRuntimeByQueue(ctx context.Context, f Filter) ([]QueueAverage, error)
	AvgWaitByQueue(ctx context.Context, f Filter) ([]QueueAverage, error)
	PeakHeatmap(ctx context.Context, f Filter) ([]HeatmapCell, error)
	FailureRateByGroup(ctx context.Context, f Filter, limit int) ([]FailureRate, error)
	FailureRateByUser(ctx context.Context, f Filter, limit int) ([]FailureRate, error)
	WalletUsage(ctx context.Context, f Filter) ([]WalletHours, error)
	JobDateRange(ctx context.Context) (DateRange, error)
	ListJobs(ctx context.Context, f Filter, page, pageSize int) (JobPage, error)
	Users(ctx context.Context) ([]string, error)
	Groups(ctx context.Context) ([]string, error)
	Queues(ctx context.Context) ([]string, error)
	Report(ctx context.Context, req ReportRequest) (Report, error)
	ActiveResources(ctx context.Context) (ActiveResources, error)
}
