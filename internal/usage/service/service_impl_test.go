package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/corehours/internal/cache"
	"github.com/smallbiznis/corehours/internal/clock"
	jobdomain "github.com/smallbiznis/corehours/internal/job/domain"
	"github.com/smallbiznis/corehours/internal/testdb"
	"github.com/smallbiznis/corehours/internal/usage/domain"
	"github.com/smallbiznis/corehours/internal/usage/repository"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	userrepo "github.com/smallbiznis/corehours/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   domain.Service
	seq   int
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	db := testdb.Open(t)
	log := zaptest.NewLogger(t)
	clk := clock.NewFakeClock(time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))

	var q *cache.Query
	if withCache {
		q = cache.NewQuery(cache.Params{Store: cache.NewMemoryStore(), Log: log})
	}
	return &fixture{
		db:    db,
		node:  testdb.Node(t),
		clock: clk,
		svc: New(Params{
			DB: db, Log: log, Clock: clk,
			Repo: repository.Provide(), UserRepo: userrepo.Provide(), Cache: q,
		}),
	}
}

type seedJob struct {
	user, group, queue, status string
	nodes, cores, run          int64
	queued, started            time.Time
	wallet                     string
}

func (f *fixture) add(t *testing.T, jobs ...seedJob) {
	t.Helper()
	for _, s := range jobs {
		f.seq++
		j := &jobdomain.Job{
			ID:             f.node.Generate(),
			JobID:          fmt.Sprintf("%d", f.seq),
			UserName:       s.user,
			UserGroup:      s.group,
			Queue:          s.queue,
			Status:         s.status,
			Nodes:          s.nodes,
			Cores:          s.cores,
			RunTimeSeconds: s.run,
			QueueTime:      s.queued,
			StartTime:      s.started,
			ResourceType:   jobdomain.ClassifyQueue(s.queue),
			SourceFile:     "20250801.log",
			CreatedAt:      f.clock.Now(),
		}
		if s.wallet != "" {
			w := s.wallet
			j.WalletName = &w
		}
		require.NoError(t, f.db.Create(j).Error)
	}
}

func at(month, day, hour, minute int) time.Time {
	return time.Date(2025, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

// Resource-hours: alice 2h CPU + 1h GPU, bob 2h GPU, carol 3h CPU.
func seedStandard(t *testing.T, f *fixture) {
	f.add(t,
		seedJob{user: "alice", group: "physics", queue: "cpu_long", status: "COMPLETED",
			nodes: 2, cores: 40, run: 3600, queued: at(7, 14, 9, 50), started: at(7, 14, 10, 0), wallet: "proj-a"},
		seedJob{user: "bob", group: "chem", queue: "gpu_batch", status: "FAILED",
			nodes: 1, cores: 4, run: 1800, queued: at(7, 15, 11, 0), started: at(7, 15, 12, 0), wallet: "proj-b"},
		seedJob{user: "alice", group: "physics", queue: "gpu_batch", status: "COMPLETED",
			nodes: 1, cores: 8, run: 450, queued: at(7, 19, 23, 0), started: at(7, 20, 0, 0)},
		seedJob{user: "carol", group: "chem", queue: "cpu_long", status: "TIMEOUT",
			nodes: 1, cores: 20, run: 10800, queued: at(8, 1, 8, 0), started: at(8, 1, 8, 0), wallet: "proj-a"},
	)
}

func TestKPI(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)

	kpi, err := f.svc.KPI(context.Background(), domain.Filter{})
	require.NoError(t, err)

	assert.InDelta(t, 5.0, kpi.CPU.Hours, 1e-9)
	assert.Equal(t, int64(2), kpi.CPU.Jobs)
	assert.InDelta(t, 7200.0, kpi.CPU.AvgRunTimeSeconds, 1e-9)
	assert.InDelta(t, 3.0, kpi.GPU.Hours, 1e-9)
	assert.Equal(t, int64(2), kpi.GPU.Jobs)
	assert.InDelta(t, 1125.0, kpi.GPU.AvgRunTimeSeconds, 1e-9)
	assert.Equal(t, int64(4), kpi.TotalJobs)
	assert.InDelta(t, 4162.5, kpi.AvgRunTimeSeconds, 1e-9)
	assert.Equal(t, int64(3), kpi.UniqueUsers)
	assert.InDelta(t, 1950.0, kpi.AvgWaitSeconds, 1e-9)
	assert.InDelta(t, 50.0, kpi.SuccessRate, 1e-9)
}

func TestKPIEndDateIsInclusive(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)

	kpi, err := f.svc.KPI(context.Background(), domain.Filter{Start: at(7, 14, 0, 0), End: at(7, 15, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), kpi.TotalJobs)

	kpi, err = f.svc.KPI(context.Background(), domain.Filter{ResourceType: "gpu"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), kpi.TotalJobs)
	assert.Equal(t, int64(0), kpi.CPU.Jobs)
}

func TestKPIEmpty(t *testing.T) {
	f := newFixture(t, false)
	kpi, err := f.svc.KPI(context.Background(), domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, domain.KPI{}, kpi)
}

func TestFilterValidation(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.KPI(context.Background(), domain.Filter{Start: at(7, 2, 0, 0), End: at(7, 1, 0, 0)})
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	_, err = f.svc.TopUsers(context.Background(), domain.Filter{}, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)
}

func TestUsageOverTime(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)
	ctx := context.Background()

	monthly, err := f.svc.UsageOverTime(ctx, domain.Filter{}, domain.Monthly)
	require.NoError(t, err)
	require.Len(t, monthly, 3)
	assert.Equal(t, domain.UsagePoint{Period: "2025-07", ResourceType: jobdomain.ResourceCPU, Seconds: 7200, Hours: 2}, monthly[0])
	assert.Equal(t, domain.UsagePoint{Period: "2025-07", ResourceType: jobdomain.ResourceGPU, Seconds: 10800, Hours: 3}, monthly[1])
	assert.Equal(t, domain.UsagePoint{Period: "2025-08", ResourceType: jobdomain.ResourceCPU, Seconds: 10800, Hours: 3}, monthly[2])

	quarterly, err := f.svc.UsageOverTime(ctx, domain.Filter{}, domain.Quarterly)
	require.NoError(t, err)
	require.Len(t, quarterly, 2)
	assert.Equal(t, "2025-Q3", quarterly[0].Period)
	assert.Equal(t, int64(18000), quarterly[0].Seconds)

	daily, err := f.svc.UsageOverTime(ctx, domain.Filter{}, "hourly")
	require.NoError(t, err)
	assert.Equal(t, "2025-07-14", daily[0].Period)
}

func TestTopN(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)
	ctx := context.Background()

	users, err := f.svc.TopUsers(ctx, domain.Filter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.Ranked{{Name: "alice", Hours: 3}, {Name: "carol", Hours: 3}, {Name: "bob", Hours: 2}}, users)

	users, err = f.svc.TopUsers(ctx, domain.Filter{}, 1)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	groups, err := f.svc.TopGroups(ctx, domain.Filter{}, 5)
	require.NoError(t, err)
	assert.Equal(t, []domain.Ranked{{Name: "chem", Hours: 5}, {Name: "physics", Hours: 3}}, groups)

	wallets, err := f.svc.TopWallets(ctx, domain.Filter{}, 5)
	require.NoError(t, err)
	assert.Equal(t, []domain.Ranked{{Name: "proj-a", Hours: 5}, {Name: "proj-b", Hours: 2}}, wallets)

	queues, err := f.svc.UsageByQueue(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []domain.Ranked{{Name: "cpu_long", Hours: 5}, {Name: "gpu_batch", Hours: 3}}, queues)
}

func TestStatusAndFailureRates(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)
	ctx := context.Background()

	statuses, err := f.svc.StatusDistribution(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []domain.StatusCount{
		{Status: "COMPLETED", Jobs: 2},
		{Status: "FAILED", Jobs: 1},
		{Status: "TIMEOUT", Jobs: 1},
	}, statuses)

	byGroup, err := f.svc.FailureRateByGroup(ctx, domain.Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, byGroup, 2)
	assert.Equal(t, domain.FailureRate{Name: "chem", TotalJobs: 2, FailedJobs: 2, FailureRate: 100}, byGroup[0])
	assert.Equal(t, domain.FailureRate{Name: "physics", TotalJobs: 2}, byGroup[1])

	byUser, err := f.svc.FailureRateByUser(ctx, domain.Filter{}, 2)
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, "bob", byUser[0].Name)
	assert.Equal(t, "carol", byUser[1].Name)
}

func TestQueueAverages(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)
	ctx := context.Background()

	runtime, err := f.svc.AvgRuntimeByQueue(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []domain.QueueAverage{{Queue: "cpu_long", Seconds: 7200}, {Queue: "gpu_batch", Seconds: 1125}}, runtime)

	wait, err := f.svc.AvgWaitByQueue(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []domain.QueueAverage{{Queue: "cpu_long", Seconds: 300}, {Queue: "gpu_batch", Seconds: 3600}}, wait)
}

func TestPeakHeatmap(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)

	cells, err := f.svc.PeakHeatmap(context.Background(), domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []domain.HeatmapCell{
		{DayOfWeek: 0, Hour: 0, Jobs: 1},
		{DayOfWeek: 1, Hour: 10, Jobs: 1},
		{DayOfWeek: 2, Hour: 12, Jobs: 1},
		{DayOfWeek: 5, Hour: 8, Jobs: 1},
	}, cells)
}

func TestWalletUsage(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)

	rows, err := f.svc.WalletUsage(context.Background(), domain.Filter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.WalletHours{
		{Wallet: "proj-a", ResourceType: jobdomain.ResourceCPU, Hours: 5},
		{Wallet: "proj-b", ResourceType: jobdomain.ResourceGPU, Hours: 2},
	}, rows)
}

func TestJobDateRange(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	rng, err := f.svc.JobDateRange(ctx)
	require.NoError(t, err)
	today := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, rng.First.Equal(today))
	assert.True(t, rng.Last.Equal(today))

	seedStandard(t, f)
	rng, err = f.svc.JobDateRange(ctx)
	require.NoError(t, err)
	assert.True(t, rng.First.Equal(at(7, 14, 10, 0)), rng.First)
	assert.True(t, rng.Last.Equal(at(8, 1, 8, 0)), rng.Last)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)
	ctx := context.Background()

	page, err := f.svc.ListJobs(ctx, domain.Filter{}, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.TotalItems)
	assert.Equal(t, int64(2), page.TotalPages)
	require.Len(t, page.Jobs, 3)
	assert.Equal(t, "carol", page.Jobs[0].UserName)

	page, err = f.svc.ListJobs(ctx, domain.Filter{}, 2, 3)
	require.NoError(t, err)
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, "alice", page.Jobs[0].UserName)

	page, err = f.svc.ListJobs(ctx, domain.Filter{User: "bob"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.TotalItems)
	assert.Equal(t, 1, page.Page)

	_, err = f.svc.ListJobs(ctx, domain.Filter{}, -2, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidPaging)
}

func TestDimensionLists(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)
	ctx := context.Background()

	node := f.node
	require.NoError(t, userrepo.Provide().Insert(ctx, f.db, &userdomain.User{
		ID: node.Generate(), Username: "dave", HashedPassword: "x", Role: userdomain.RoleUser,
		CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
	}))
	require.NoError(t, userrepo.Provide().Insert(ctx, f.db, &userdomain.User{
		ID: node.Generate(), Username: "alice", HashedPassword: "x", Role: userdomain.RoleUser,
		CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
	}))

	users, err := f.svc.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, users)

	groups, err := f.svc.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chem", "physics"}, groups)

	queues, err := f.svc.Queues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu_long", "gpu_batch"}, queues)
}

func TestReport(t *testing.T) {
	f := newFixture(t, false)
	seedStandard(t, f)
	ctx := context.Background()

	report, err := f.svc.Report(ctx, domain.ReportRequest{Month: "2025-07"})
	require.NoError(t, err)
	require.Len(t, report.Rows, 3)
	assert.True(t, report.Total.Equal(decimal.NewFromInt(5)), report.Total.String())

	byWallet := map[string]domain.ReportRow{}
	for _, row := range report.Rows {
		byWallet[row.Wallet] = row
	}
	assert.True(t, byWallet["proj-a"].Hours.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, int64(1), byWallet[""].Jobs)

	report, err = f.svc.Report(ctx, domain.ReportRequest{Year: 2025, Wallet: "proj-a"})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	assert.True(t, report.Total.Equal(decimal.NewFromInt(5)))

	report, err = f.svc.Report(ctx, domain.ReportRequest{Year: 2025, User: "bob"})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, "proj-b", report.Rows[0].Wallet)

	_, err = f.svc.Report(ctx, domain.ReportRequest{Month: "July"})
	assert.ErrorIs(t, err, domain.ErrInvalidMonth)
}

func TestReportRoundsToFourPlaces(t *testing.T) {
	f := newFixture(t, false)
	f.add(t, seedJob{user: "erin", group: "bio", queue: "cpu", status: "COMPLETED",
		nodes: 1, run: 1, queued: at(7, 1, 0, 0), started: at(7, 1, 0, 0), wallet: "w"})

	report, err := f.svc.Report(context.Background(), domain.ReportRequest{Month: "2025-07"})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, "0.0003", report.Rows[0].Hours.String())
}

func TestActiveResources(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	active, err := f.svc.ActiveResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ActiveResources{}, active)

	// now is 2025-08-01 09:00
	f.add(t,
		seedJob{user: "a", queue: "cpu", status: "RUNNING", nodes: 4, cores: 80, run: 7200,
			queued: at(8, 1, 8, 0), started: at(8, 1, 8, 0)},
		seedJob{user: "b", queue: "gpu", status: "COMPLETED", nodes: 1, cores: 16, run: 600,
			queued: at(8, 1, 8, 30), started: at(8, 1, 8, 30)},
		seedJob{user: "c", queue: "gpu", status: "RUNNING", nodes: 1, cores: 8, run: 3600,
			queued: at(8, 1, 8, 45), started: at(8, 1, 8, 45)},
		seedJob{user: "d", queue: "cpu", status: "RUNNING", nodes: 2, run: 3600,
			queued: at(8, 1, 9, 30), started: at(8, 1, 9, 30)},
	)

	active, err = f.svc.ActiveResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ActiveResources{CPUNodes: 4, GPUCores: 8}, active)
}

func TestResultsAreCached(t *testing.T) {
	f := newFixture(t, true)
	seedStandard(t, f)
	ctx := context.Background()

	first, err := f.svc.KPI(ctx, domain.Filter{})
	require.NoError(t, err)

	f.add(t, seedJob{user: "zed", group: "x", queue: "cpu", status: "COMPLETED",
		nodes: 1, run: 60, queued: at(7, 2, 0, 0), started: at(7, 2, 0, 0)})

	cached, err := f.svc.KPI(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	fresh, err := f.svc.KPI(ctx, domain.Filter{User: "zed"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.TotalJobs)
}
