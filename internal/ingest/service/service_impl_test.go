package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/corehours/internal/clock"
	"github.com/smallbiznis/corehours/internal/config"
	"github.com/smallbiznis/corehours/internal/ingest/checksum"
	"github.com/smallbiznis/corehours/internal/ingest/domain"
	ingestrepo "github.com/smallbiznis/corehours/internal/ingest/repository"
	jobdomain "github.com/smallbiznis/corehours/internal/job/domain"
	jobrepo "github.com/smallbiznis/corehours/internal/job/repository"
	"github.com/smallbiznis/corehours/internal/lock"
	mappingdomain "github.com/smallbiznis/corehours/internal/mapping/domain"
	mappingrepo "github.com/smallbiznis/corehours/internal/mapping/repository"
	mappingservice "github.com/smallbiznis/corehours/internal/mapping/service"
	"github.com/smallbiznis/corehours/internal/observability/metrics"
	"github.com/smallbiznis/corehours/internal/testdb"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	userrepo "github.com/smallbiznis/corehours/internal/user/repository"
	userservice "github.com/smallbiznis/corehours/internal/user/service"
	walletdomain "github.com/smallbiznis/corehours/internal/wallet/domain"
	walletrepo "github.com/smallbiznis/corehours/internal/wallet/repository"
	walletservice "github.com/smallbiznis/corehours/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var columns = []string{
	"JobID", "JobName", "UserName", "UserGroup", "Queue", "JobStatus",
	"Nodes", "Cores", "Memory", "RunTimeSeconds", "ElapseLimiteSecond",
	"QueDateYear", "QueDateMonth", "QueDateDay", "QueDateHour", "QueDateMinute", "QueDateSecond",
	"StartDateYear", "StartDateMonth", "StartDateDay", "StartDateHour", "StartDateMinute", "StartDateSecond",
}

type harness struct {
	db       *gorm.DB
	dir      string
	clk      *clock.FakeClock
	svc      domain.Service
	registry *prometheus.Registry
	mappings mappingdomain.Service
	wallets  walletdomain.Service
	users    userdomain.Service
}

func newHarness(t *testing.T, cols []string) *harness {
	t.Helper()

	db := testdb.Open(t)
	log := zaptest.NewLogger(t)
	node := testdb.Node(t)
	clk := clock.NewFakeClock(time.Date(2025, 7, 19, 0, 0, 0, 0, time.UTC))
	dir := t.TempDir()

	wRepo := walletrepo.Provide()
	uRepo := userrepo.Provide()
	mRepo := mappingrepo.Provide()

	mappings := mappingservice.New(mappingservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: mRepo, WalletRepo: wRepo, UserRepo: uRepo,
	})
	wallets := walletservice.New(walletservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: wRepo, MappingRepo: mRepo,
	})
	users := userservice.New(userservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: uRepo, MappingRepo: mRepo,
	})
	provisioner := userservice.NewDefaultCredentialProvisioner(userservice.ProvisionerParams{
		Log: log, GenID: node, Clock: clk, Repo: uRepo,
	})

	registry := prometheus.NewRegistry()
	im := metrics.NewIngestMetrics(registry, metrics.Config{ServiceName: "corehours", Environment: "test"})

	svc, err := New(Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Config: config.IngestConfig{
			LogDirectory: dir,
			Columns:      cols,
			StatusMap:    config.DefaultStatusMap(),
		},
		Repo:        ingestrepo.Provide(),
		JobRepo:     jobrepo.Provide(),
		WalletRepo:  wRepo,
		Mappings:    mappings,
		Provisioner: provisioner,
		Locker:      lock.NewLocal(),
		Metrics:     im,
	})
	require.NoError(t, err)

	return &harness{db: db, dir: dir, clk: clk, svc: svc, registry: registry, mappings: mappings, wallets: wallets, users: users}
}

func (h *harness) write(t *testing.T, name string, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte(content), 0o644))
}

func (h *harness) jobs(t *testing.T, sourceFile string) []jobdomain.Job {
	t.Helper()
	var jobs []jobdomain.Job
	require.NoError(t, h.db.Where("source_file = ?", sourceFile).Order("job_id asc").Find(&jobs).Error)
	return jobs
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Count(&n).Error)
	return n
}

func (h *harness) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabels(m.GetLabel(), labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func line(id, user, group, queue, status string) string {
	return strings.Join([]string{
		id, "job" + id, user, group, queue, status,
		"2", "20", "4096M", "200", "(3600)",
		"2025", "7", "18", "8", "0", "0",
		"2025", "7", "18", "8", "10", "0",
	}, " ")
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)
	h.write(t, "250718.out",
		line("1", "alice", "physics", "batch", "EXT"),
		line("2", "bob", "physics", "gpu_batch", "CCL"),
		line("3", "carol", "chem", "batch", "RUN"),
	)

	first, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)
	require.Len(t, first.Files, 1)
	assert.Equal(t, domain.ModeNew, first.Files[0].Mode)
	assert.Equal(t, 3, first.Inserted())
	assert.Equal(t, 0, first.Failed())
	assert.Equal(t, 2, first.Files[0].Wallets)

	var before domain.ProcessedFile
	require.NoError(t, h.db.Where("filename = ?", "250718.out").First(&before).Error)

	h.clk.Advance(time.Hour)
	second, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)
	assert.Empty(t, second.Files)
	assert.Equal(t, []string{"250718.out"}, second.Unchanged)

	var after domain.ProcessedFile
	require.NoError(t, h.db.Where("filename = ?", "250718.out").First(&after).Error)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Checksum, after.Checksum)
	assert.True(t, before.LastProcessed.Equal(after.LastProcessed),
		"last_processed moved from %s to %s", before.LastProcessed, after.LastProcessed)

	assert.Equal(t, int64(3), h.count(t, &jobdomain.Job{}))
	assert.Equal(t, int64(1), h.count(t, &domain.ProcessedFile{}))
	assert.Equal(t, int64(3), h.count(t, &userdomain.User{}))
	assert.Equal(t, int64(2), h.count(t, &walletdomain.Wallet{}))

	jobs := h.jobs(t, "250718.out")
	require.Len(t, jobs, 3)
	assert.Equal(t, jobdomain.StatusCompleted, jobs[0].Status)
	assert.Equal(t, jobdomain.StatusUserCanceled, jobs[1].Status)
	assert.Equal(t, jobdomain.ResourceGPU, jobs[1].ResourceType)
	assert.Equal(t, int64(3600), jobs[0].ElapseLimitSeconds)
	require.NotNil(t, jobs[2].WalletName)
	assert.Equal(t, "chem", *jobs[2].WalletName)

	assert.Equal(t, float64(1), h.counter(t, "corehours_ingest_files_total",
		map[string]string{"mode": "new", "outcome": metrics.FileOutcomeSuccess}))
	assert.Equal(t, float64(1), h.counter(t, "corehours_ingest_files_total",
		map[string]string{"mode": "unchanged", "outcome": metrics.FileOutcomeSkipped}))
	assert.Equal(t, float64(2), h.counter(t, "corehours_ingest_rows_inserted_total",
		map[string]string{"resource_type": "CPU"}))
}

func TestAttributionAppliedOnLoad(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)

	_, err := h.wallets.Create(ctx, walletdomain.CreateWalletRequest{Name: "walletX"})
	require.NoError(t, err)
	_, err = h.wallets.Create(ctx, walletdomain.CreateWalletRequest{Name: "walletVIP"})
	require.NoError(t, err)
	_, err = h.users.Create(ctx, userdomain.CreateUserRequest{Username: "vip", Password: "pw"})
	require.NoError(t, err)

	for _, req := range []mappingdomain.AddRuleRequest{
		{Kind: mappingdomain.KindGroupToGroup, Source: "groupA", Target: "groupB"},
		{Kind: mappingdomain.KindGroupToWallet, Source: "groupB", Target: "walletX"},
		{Kind: mappingdomain.KindUserToWallet, Source: "vip", Target: "walletVIP"},
	} {
		_, err := h.mappings.Add(ctx, req)
		require.NoError(t, err)
	}

	h.write(t, "a.out",
		line("1", "alice", "groupA", "batch", "EXT"),
		line("2", "vip", "groupA", "batch", "EXT"),
	)
	_, err = h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)

	jobs := h.jobs(t, "a.out")
	require.Len(t, jobs, 2)
	assert.Equal(t, "groupB", jobs[0].UserGroup)
	assert.Equal(t, "walletX", *jobs[0].WalletName)
	assert.Equal(t, "groupB", jobs[1].UserGroup)
	assert.Equal(t, "walletVIP", *jobs[1].WalletName)

	// No wallet named after the raw or rewritten group is created.
	assert.Equal(t, int64(2), h.count(t, &walletdomain.Wallet{}))
}

func TestModifiedFileReplacesRows(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)
	h.write(t, "f.out",
		line("1", "alice", "g", "batch", "EXT"),
		line("2", "alice", "g", "batch", "EXT"),
		line("3", "alice", "g", "batch", "EXT"),
	)
	_, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)

	h.write(t, "f.out",
		line("1", "alice", "g", "batch", "EXT"),
		line("3", "alice", "g", "batch", "FAILED"),
	)
	summary, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	assert.Equal(t, domain.ModeModified, summary.Files[0].Mode)
	assert.Equal(t, int64(3), summary.Files[0].Deleted)
	assert.Equal(t, 2, summary.Files[0].Inserted)

	jobs := h.jobs(t, "f.out")
	require.Len(t, jobs, 2)
	assert.Equal(t, "FAILED", jobs[1].Status)

	want, err := checksum.Sum(filepath.Join(h.dir, "f.out"), 0)
	require.NoError(t, err)
	files, err := h.svc.ListProcessedFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, want, files[0].Checksum)
}

func TestForceReloadWithOneRowRemoved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)
	h.write(t, "f.out",
		line("1", "alice", "g", "batch", "EXT"),
		line("2", "alice", "g", "batch", "EXT"),
		line("3", "alice", "g", "batch", "EXT"),
	)
	_, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)
	before, err := h.svc.ListProcessedFiles(ctx)
	require.NoError(t, err)

	h.write(t, "f.out",
		line("1", "alice", "g", "batch", "EXT"),
		line("3", "alice", "g", "batch", "EXT"),
	)
	summary, err := h.svc.Run(ctx, domain.RunRequest{File: "f.out", Force: true})
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	assert.Equal(t, domain.ModeForce, summary.Files[0].Mode)

	assert.Len(t, h.jobs(t, "f.out"), 2)
	after, err := h.svc.ListProcessedFiles(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.NotEqual(t, before[0].Checksum, after[0].Checksum)
}

func TestNamedFileWithoutForceAppends(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)
	h.write(t, "f.out", line("1", "alice", "g", "batch", "EXT"))
	_, err := h.svc.Run(ctx, domain.RunRequest{File: "f.out"})
	require.NoError(t, err)

	h.write(t, "f.out",
		line("1", "alice", "g", "batch", "RUN"),
		line("2", "alice", "g", "batch", "EXT"),
	)
	summary, err := h.svc.Run(ctx, domain.RunRequest{File: "f.out"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Files[0].Duplicates)
	assert.Equal(t, 1, summary.Files[0].Inserted)

	jobs := h.jobs(t, "f.out")
	require.Len(t, jobs, 2)
	assert.Equal(t, jobdomain.StatusCompleted, jobs[0].Status)
}

func TestDuplicateIDsWithinFileKeepFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)
	h.write(t, "f.out",
		line("7", "alice", "g", "batch", "EXT"),
		line("7", "alice", "g", "batch", "CCL"),
	)
	summary, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Files[0].Duplicates)

	jobs := h.jobs(t, "f.out")
	require.Len(t, jobs, 1)
	assert.Equal(t, jobdomain.StatusCompleted, jobs[0].Status)
}

func TestSameJobIDAcrossFilesIsKept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)
	h.write(t, "a.out", line("1", "alice", "g", "batch", "EXT"))
	h.write(t, "b.out", line("1", "alice", "g", "batch", "EXT"))

	summary, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Inserted())
	assert.Equal(t, int64(2), h.count(t, &jobdomain.Job{}))
}

func TestFileFailureDoesNotAbortRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)
	h.write(t, "a.out", line("1", "alice", "g", "batch", "EXT"))
	// A line longer than the scanner limit is a read error for the whole file.
	h.write(t, "b.out", line("1", "bob", "g", "batch", "EXT"), strings.Repeat("x", 2<<20))
	h.write(t, "c.out", line("1", "carol", "g", "batch", "EXT"))

	summary, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Files, 3)

	assert.NoError(t, summary.Files[0].Err)
	assert.Error(t, summary.Files[1].Err)
	assert.NotEmpty(t, summary.Files[1].Error)
	assert.NoError(t, summary.Files[2].Err)
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, 2, summary.Inserted())

	assert.Empty(t, h.jobs(t, "b.out"))
	files, err := h.svc.ListProcessedFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.out", files[0].Filename)
	assert.Equal(t, "c.out", files[1].Filename)
}

func TestMissingDateColumnsFailsEachFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"JobID", "UserName", "UserGroup", "Queue"})
	h.write(t, "a.out", "1 alice g batch")
	h.write(t, "b.out", "2 bob g batch")

	summary, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Files, 2)
	assert.Equal(t, 2, summary.Failed())
	for _, f := range summary.Files {
		assert.ErrorIs(t, f.Err, domain.ErrMissingDateColumns)
	}
	assert.Equal(t, int64(0), h.count(t, &domain.ProcessedFile{}))
	assert.Equal(t, float64(2), h.counter(t, "corehours_ingest_files_total",
		map[string]string{"mode": "new", "outcome": metrics.FileOutcomeFailure}))
}

func TestMissingJobIDColumnFailsEachFile(t *testing.T) {
	ctx := context.Background()
	cols := append([]string(nil), columns...)
	cols[0] = "Id"
	h := newHarness(t, cols)
	h.write(t, "a.out", line("1", "alice", "g", "batch", "EXT"))

	summary, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	assert.Equal(t, 1, summary.Failed())
	assert.ErrorIs(t, summary.Files[0].Err, domain.ErrMissingColumns)
	assert.Equal(t, 0, summary.Inserted())
	assert.Equal(t, int64(0), h.count(t, &jobdomain.Job{}))
	assert.Equal(t, int64(0), h.count(t, &domain.ProcessedFile{}))
}

func TestFailedFileRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)
	h.write(t, "a.out",
		line("1", "alice", "g", "batch", "EXT"),
		line("2", "alice", "g", "batch", "EXT"),
	)
	_, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)

	// The checksum upsert fails, so the delete and inserts must roll back.
	require.NoError(t, h.db.Exec("DROP TABLE processed_files").Error)
	h.write(t, "a.out", line("1", "alice", "g", "batch", "EXT"))

	summary, err := h.svc.Run(ctx, domain.RunRequest{File: "a.out", Force: true})
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	assert.Error(t, summary.Files[0].Err)
	assert.Len(t, h.jobs(t, "a.out"), 2)
}

func TestClearOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)
	h.write(t, "a.out", line("1", "alice", "g", "batch", "EXT"))
	_, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)

	n, err := h.svc.ClearProcessedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), h.count(t, &jobdomain.Job{}))

	// Cleared checksums make the file new again; existing ids are skipped.
	summary, err := h.svc.Run(ctx, domain.RunRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Files, 1)
	assert.Equal(t, domain.ModeNew, summary.Files[0].Mode)
	assert.Equal(t, 1, summary.Files[0].Duplicates)
	assert.Equal(t, int64(1), h.count(t, &jobdomain.Job{}))

	n, err = h.svc.ClearJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(0), h.count(t, &jobdomain.Job{}))
}

func TestRunValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)

	_, err := h.svc.Run(ctx, domain.RunRequest{Force: true})
	assert.ErrorIs(t, err, domain.ErrForceRequiresFile)

	_, err = h.svc.Run(ctx, domain.RunRequest{File: "nope.out"})
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	_, err = h.svc.Run(ctx, domain.RunRequest{File: "../etc/passwd"})
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, columns)
	locker := lock.NewLocal()
	_, ok, err := locker.TryLock(ctx, lockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	h.svc.(*Service).locker = locker
	_, err = h.svc.Run(ctx, domain.RunRequest{})
	assert.ErrorIs(t, err, domain.ErrRunInProgress)
}
