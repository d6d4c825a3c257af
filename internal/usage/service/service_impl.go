package service

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/corehours/internal/cache"
	"github.com/smallbiznis/corehours/internal/clock"
	jobdomain "github.com/smallbiznis/corehours/internal/job/domain"
	"github.com/smallbiznis/corehours/internal/usage/domain"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	"github.com/smallbiznis/corehours/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ttlLive   = 60 * time.Second
	ttlSeries = 300 * time.Second
	ttlLists  = 3600 * time.Second

	defaultTopLimit     = 5
	defaultFailureLimit = 10
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	UserRepo userdomain.Repository
	Cache    *cache.Query `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	userRepo userdomain.Repository
	cache    *cache.Query
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("usage.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		userRepo: p.UserRepo,
		cache:    p.Cache,
	}
}

func validateFilter(f domain.Filter) error {
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return domain.ErrInvalidRange
	}
	return nil
}

func limitOrDefault(limit, def int) (int, error) {
	switch {
	case limit < 0:
		return 0, domain.ErrInvalidLimit
	case limit == 0:
		return def, nil
	default:
		return limit, nil
	}
}

func hours(seconds int64) float64 {
	return float64(seconds) / 3600
}

type filterArgs struct {
	Filter domain.Filter `json:"filter"`
	Extra  any           `json:"extra,omitempty"`
}

func (s *Service) KPI(ctx context.Context, f domain.Filter) (domain.KPI, error) {
	if err := validateFilter(f); err != nil {
		return domain.KPI{}, err
	}
	return cache.Remember(ctx, s.cache, "kpi", ttlLive, filterArgs{Filter: f}, func(ctx context.Context) (domain.KPI, error) {
		return s.kpi(ctx, f)
	})
}

func (s *Service) kpi(ctx context.Context, f domain.Filter) (domain.KPI, error) {
	var out domain.KPI

	totals, err := s.repo.Totals(ctx, s.db, f)
	if err != nil {
		return out, err
	}
	var runSeconds int64
	for _, t := range totals {
		rk := domain.ResourceKPI{Hours: hours(t.ResourceSeconds), Jobs: t.Jobs}
		if t.Jobs > 0 {
			rk.AvgRunTimeSeconds = float64(t.RunSeconds) / float64(t.Jobs)
		}
		switch t.ResourceType {
		case jobdomain.ResourceCPU:
			out.CPU = rk
		case jobdomain.ResourceGPU:
			out.GPU = rk
		}
		out.TotalJobs += t.Jobs
		runSeconds += t.RunSeconds
	}
	if out.TotalJobs == 0 {
		return out, nil
	}
	out.AvgRunTimeSeconds = float64(runSeconds) / float64(out.TotalJobs)

	if out.UniqueUsers, err = s.repo.UniqueUsers(ctx, s.db, f); err != nil {
		return out, err
	}

	var waitSeconds float64
	var waited int64
	err = s.repo.ScanTimes(ctx, s.db, f, func(row domain.TimeRow) error {
		waitSeconds += row.StartTime.Sub(row.QueueTime).Seconds()
		waited++
		return nil
	})
	if err != nil {
		return out, err
	}
	if waited > 0 {
		out.AvgWaitSeconds = waitSeconds / float64(waited)
	}

	statuses, err := s.repo.StatusCounts(ctx, s.db, f)
	if err != nil {
		return out, err
	}
	for _, st := range statuses {
		if st.Status == jobdomain.StatusCompleted {
			out.SuccessRate = float64(st.Jobs) / float64(out.TotalJobs) * 100
		}
	}
	return out, nil
}

func (s *Service) UsageOverTime(ctx context.Context, f domain.Filter, g domain.Granularity) ([]domain.UsagePoint, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	g = domain.ParseGranularity(string(g))
	return cache.Remember(ctx, s.cache, "usage_over_time", ttlSeries, filterArgs{Filter: f, Extra: g}, func(ctx context.Context) ([]domain.UsagePoint, error) {
		type bucket struct {
			period string
			rt     jobdomain.ResourceType
		}
		sums := map[bucket]int64{}
		err := s.repo.ScanTimes(ctx, s.db, f, func(row domain.TimeRow) error {
			sums[bucket{period: g.Bucket(row.StartTime), rt: row.ResourceType}] += row.ResourceSeconds
			return nil
		})
		if err != nil {
			return nil, err
		}
		points := make([]domain.UsagePoint, 0, len(sums))
		for b, secs := range sums {
			points = append(points, domain.UsagePoint{
				Period:       b.period,
				ResourceType: b.rt,
				Seconds:      secs,
				Hours:        hours(secs),
			})
		}
		slices.SortFunc(points, func(a, b domain.UsagePoint) int {
			return cmp.Or(cmp.Compare(a.Period, b.Period), cmp.Compare(a.ResourceType, b.ResourceType))
		})
		return points, nil
	})
}

func (s *Service) TopUsers(ctx context.Context, f domain.Filter, limit int) ([]domain.Ranked, error) {
	return s.top(ctx, "top_users", f, domain.DimUser, limit)
}

func (s *Service) TopGroups(ctx context.Context, f domain.Filter, limit int) ([]domain.Ranked, error) {
	return s.top(ctx, "top_groups", f, domain.DimGroup, limit)
}

func (s *Service) TopWallets(ctx context.Context, f domain.Filter, limit int) ([]domain.Ranked, error) {
	return s.top(ctx, "top_wallets", f, domain.DimWallet, limit)
}

func (s *Service) top(ctx context.Context, op string, f domain.Filter, dim domain.Dimension, limit int) ([]domain.Ranked, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	limit, err := limitOrDefault(limit, defaultTopLimit)
	if err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.cache, op, ttlSeries, filterArgs{Filter: f, Extra: limit}, func(ctx context.Context) ([]domain.Ranked, error) {
		ranked, err := s.rankedHours(ctx, f, dim)
		if err != nil {
			return nil, err
		}
		if len(ranked) > limit {
			ranked = ranked[:limit]
		}
		return ranked, nil
	})
}

// rankedHours sums resource-hours per dimension value, largest first.
// Jobs without a value for the dimension are left out.
func (s *Service) rankedHours(ctx context.Context, f domain.Filter, dim domain.Dimension) ([]domain.Ranked, error) {
	rows, err := s.repo.GroupBy(ctx, s.db, f, dim)
	if err != nil {
		return nil, err
	}
	seconds := map[string]int64{}
	for _, row := range rows {
		if row.Dim == "" {
			continue
		}
		seconds[row.Dim] += row.ResourceSeconds
	}
	ranked := make([]domain.Ranked, 0, len(seconds))
	for name, secs := range seconds {
		ranked = append(ranked, domain.Ranked{Name: name, Hours: hours(secs)})
	}
	slices.SortFunc(ranked, func(a, b domain.Ranked) int {
		return cmp.Or(cmp.Compare(b.Hours, a.Hours), cmp.Compare(a.Name, b.Name))
	})
	return ranked, nil
}

func (s *Service) StatusDistribution(ctx context.Context, f domain.Filter) ([]domain.StatusCount, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.cache, "status_distribution", ttlSeries, filterArgs{Filter: f}, func(ctx context.Context) ([]domain.StatusCount, error) {
		return s.repo.StatusCounts(ctx, s.db, f)
	})
}

func (s *Service) UsageByQueue(ctx context.Context, f domain.Filter) ([]domain.Ranked, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.cache, "usage_by_queue", ttlSeries, filterArgs{Filter: f}, func(ctx context.Context) ([]domain.Ranked, error) {
		return s.rankedHours(ctx, f, domain.DimQueue)
	})
}

func (s *Service) AvgRuntimeByQueue(ctx context.Context, f domain.Filter) ([]domain.QueueAverage, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.cache, "avg_runtime_by_queue", ttlSeries, filterArgs{Filter: f}, func(ctx context.Context) ([]domain.QueueAverage, error) {
		rows, err := s.repo.GroupBy(ctx, s.db, f, domain.DimQueue)
		if err != nil {
			return nil, err
		}
		run := map[string]int64{}
		count := map[string]int64{}
		for _, row := range rows {
			run[row.Dim] += row.RunSeconds
			count[row.Dim] += row.Jobs
		}
		return averages(run, count), nil
	})
}

func (s *Service) AvgWaitByQueue(ctx context.Context, f domain.Filter) ([]domain.QueueAverage, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.cache, "avg_wait_by_queue", ttlSeries, filterArgs{Filter: f}, func(ctx context.Context) ([]domain.QueueAverage, error) {
		wait := map[string]float64{}
		count := map[string]int64{}
		err := s.repo.ScanTimes(ctx, s.db, f, func(row domain.TimeRow) error {
			wait[row.Queue] += row.StartTime.Sub(row.QueueTime).Seconds()
			count[row.Queue]++
			return nil
		})
		if err != nil {
			return nil, err
		}
		return averages(wait, count), nil
	})
}

func averages[N int64 | float64](sums map[string]N, counts map[string]int64) []domain.QueueAverage {
	out := make([]domain.QueueAverage, 0, len(sums))
	for queue, sum := range sums {
		if counts[queue] == 0 {
			continue
		}
		out = append(out, domain.QueueAverage{Queue: queue, Seconds: float64(sum) / float64(counts[queue])})
	}
	slices.SortFunc(out, func(a, b domain.QueueAverage) int { return cmp.Compare(a.Queue, b.Queue) })
	return out
}

func (s *Service) PeakHeatmap(ctx context.Context, f domain.Filter) ([]domain.HeatmapCell, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.cache, "peak_heatmap", ttlSeries, filterArgs{Filter: f}, func(ctx context.Context) ([]domain.HeatmapCell, error) {
		var grid [7][24]int64
		err := s.repo.ScanTimes(ctx, s.db, f, func(row domain.TimeRow) error {
			t := row.StartTime.UTC()
			grid[t.Weekday()][t.Hour()]++
			return nil
		})
		if err != nil {
			return nil, err
		}
		var cells []domain.HeatmapCell
		for day := range grid {
			for hour, jobs := range grid[day] {
				if jobs > 0 {
					cells = append(cells, domain.HeatmapCell{DayOfWeek: day, Hour: hour, Jobs: jobs})
				}
			}
		}
		return cells, nil
	})
}

func (s *Service) FailureRateByGroup(ctx context.Context, f domain.Filter, limit int) ([]domain.FailureRate, error) {
	return s.failureRate(ctx, "failure_rate_by_group", f, domain.DimGroup, limit)
}

func (s *Service) FailureRateByUser(ctx context.Context, f domain.Filter, limit int) ([]domain.FailureRate, error) {
	return s.failureRate(ctx, "failure_rate_by_user", f, domain.DimUser, limit)
}

func (s *Service) failureRate(ctx context.Context, op string, f domain.Filter, dim domain.Dimension, limit int) ([]domain.FailureRate, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	limit, err := limitOrDefault(limit, defaultFailureLimit)
	if err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.cache, op, ttlSeries, filterArgs{Filter: f, Extra: limit}, func(ctx context.Context) ([]domain.FailureRate, error) {
		rows, err := s.repo.GroupBy(ctx, s.db, f, dim)
		if err != nil {
			return nil, err
		}
		byName := map[string]*domain.FailureRate{}
		for _, row := range rows {
			fr, ok := byName[row.Dim]
			if !ok {
				fr = &domain.FailureRate{Name: row.Dim}
				byName[row.Dim] = fr
			}
			fr.TotalJobs += row.Jobs
			fr.FailedJobs += row.FailedJobs
		}
		out := make([]domain.FailureRate, 0, len(byName))
		for _, fr := range byName {
			if fr.TotalJobs > 0 {
				fr.FailureRate = float64(fr.FailedJobs) / float64(fr.TotalJobs) * 100
			}
			out = append(out, *fr)
		}
		slices.SortFunc(out, func(a, b domain.FailureRate) int {
			return cmp.Or(cmp.Compare(b.FailureRate, a.FailureRate), cmp.Compare(a.Name, b.Name))
		})
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	})
}

func (s *Service) WalletUsage(ctx context.Context, f domain.Filter) ([]domain.WalletHours, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.cache, "wallet_usage", ttlSeries, filterArgs{Filter: f}, func(ctx context.Context) ([]domain.WalletHours, error) {
		rows, err := s.repo.GroupBy(ctx, s.db, f, domain.DimWallet)
		if err != nil {
			return nil, err
		}
		out := make([]domain.WalletHours, 0, len(rows))
		for _, row := range rows {
			if row.Dim == "" {
				continue
			}
			out = append(out, domain.WalletHours{
				Wallet:       row.Dim,
				ResourceType: row.ResourceType,
				Hours:        hours(row.ResourceSeconds),
			})
		}
		return out, nil
	})
}

func (s *Service) JobDateRange(ctx context.Context) (domain.DateRange, error) {
	return cache.Remember(ctx, s.cache, "job_date_range", ttlLists, nil, func(ctx context.Context) (domain.DateRange, error) {
		first, err := s.repo.FirstJob(ctx, s.db)
		if err != nil {
			return domain.DateRange{}, err
		}
		last, err := s.repo.LastJob(ctx, s.db)
		if err != nil {
			return domain.DateRange{}, err
		}
		if first == nil || last == nil {
			today := s.clock.Now().UTC().Truncate(24 * time.Hour)
			return domain.DateRange{First: today, Last: today}, nil
		}
		return domain.DateRange{First: first.StartTime, Last: last.StartTime}, nil
	})
}

func (s *Service) ListJobs(ctx context.Context, f domain.Filter, page, pageSize int) (domain.JobPage, error) {
	if err := validateFilter(f); err != nil {
		return domain.JobPage{}, err
	}
	p, err := pagination.Pagination{Page: page, PageSize: pageSize}.Normalize()
	if err != nil {
		return domain.JobPage{}, domain.ErrInvalidPaging
	}
	items, total, err := s.repo.ListJobs(ctx, s.db, f, p.Offset(), p.PageSize)
	if err != nil {
		return domain.JobPage{}, err
	}
	return domain.JobPage{
		TotalItems: total,
		TotalPages: pagination.TotalPages(total, p.PageSize),
		Page:       p.Page,
		PageSize:   p.PageSize,
		Jobs:       items,
	}, nil
}

// Users lists job submitters together with registered accounts.
func (s *Service) Users(ctx context.Context) ([]string, error) {
	return cache.Remember(ctx, s.cache, "users", ttlLists, nil, func(ctx context.Context) ([]string, error) {
		names, err := s.repo.Distinct(ctx, s.db, domain.DimUser)
		if err != nil {
			return nil, err
		}
		accounts, err := s.userRepo.List(ctx, s.db)
		if err != nil {
			return nil, err
		}
		for _, u := range accounts {
			names = append(names, u.Username)
		}
		slices.Sort(names)
		return slices.Compact(names), nil
	})
}

func (s *Service) Groups(ctx context.Context) ([]string, error) {
	return cache.Remember(ctx, s.cache, "groups", ttlLists, nil, func(ctx context.Context) ([]string, error) {
		return s.repo.Distinct(ctx, s.db, domain.DimGroup)
	})
}

func (s *Service) Queues(ctx context.Context) ([]string, error) {
	return cache.Remember(ctx, s.cache, "queues", ttlLists, nil, func(ctx context.Context) ([]string, error) {
		return s.repo.Distinct(ctx, s.db, domain.DimQueue)
	})
}

// Report totals resource-hours per wallet and resource type. Jobs without a
// wallet are reported under an empty wallet name.
func (s *Service) Report(ctx context.Context, req domain.ReportRequest) (domain.Report, error) {
	f, err := reportFilter(req)
	if err != nil {
		return domain.Report{}, err
	}
	rows, err := s.repo.GroupBy(ctx, s.db, f, domain.DimWallet)
	if err != nil {
		return domain.Report{}, err
	}
	report := domain.Report{Rows: make([]domain.ReportRow, 0, len(rows)), Total: decimal.Zero}
	perHour := decimal.NewFromInt(3600)
	for _, row := range rows {
		h := decimal.NewFromInt(row.ResourceSeconds).Div(perHour).Round(4)
		report.Rows = append(report.Rows, domain.ReportRow{
			Wallet:       row.Dim,
			ResourceType: row.ResourceType,
			Jobs:         row.Jobs,
			Hours:        h,
		})
		report.Total = report.Total.Add(h)
	}
	return report, nil
}

func reportFilter(req domain.ReportRequest) (domain.Filter, error) {
	f := domain.Filter{
		User:   strings.TrimSpace(req.User),
		Wallet: strings.TrimSpace(req.Wallet),
	}
	switch month := strings.TrimSpace(req.Month); {
	case month != "":
		start, err := time.Parse("2006-01", month)
		if err != nil {
			return f, domain.ErrInvalidMonth
		}
		f.Start = start
		f.End = start.AddDate(0, 1, -1)
	case req.Year != 0:
		if req.Year < 1 || req.Year > 9999 {
			return f, domain.ErrInvalidRange
		}
		f.Start = time.Date(req.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		f.End = time.Date(req.Year, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
	return f, nil
}

// ActiveResources sums the nodes of CPU jobs and the cores of GPU jobs that
// are running now, judged by start time plus run time.
func (s *Service) ActiveResources(ctx context.Context) (domain.ActiveResources, error) {
	return cache.Remember(ctx, s.cache, "active_resources", ttlLive, nil, func(ctx context.Context) (domain.ActiveResources, error) {
		var out domain.ActiveResources
		longest, err := s.repo.MaxRunTime(ctx, s.db)
		if err != nil || longest == 0 {
			return out, err
		}
		now := s.clock.Now().UTC()
		candidates, err := s.repo.StartedBetween(ctx, s.db, now.Add(-time.Duration(longest)*time.Second), now)
		if err != nil {
			return out, err
		}
		for _, j := range candidates {
			if !now.Before(j.StartTime.Add(time.Duration(j.RunTimeSeconds) * time.Second)) {
				continue
			}
			switch j.ResourceType {
			case jobdomain.ResourceCPU:
				out.CPUNodes += j.Nodes
			case jobdomain.ResourceGPU:
				out.GPUCores += j.Cores
			}
		}
		return out, nil
	})
}
