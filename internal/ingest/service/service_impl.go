package service

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/corehours/internal/clock"
	"github.com/smallbiznis/corehours/internal/config"
	"github.com/smallbiznis/corehours/internal/ingest/attribution"
	"github.com/smallbiznis/corehours/internal/ingest/checksum"
	"github.com/smallbiznis/corehours/internal/ingest/domain"
	"github.com/smallbiznis/corehours/internal/ingest/parser"
	jobdomain "github.com/smallbiznis/corehours/internal/job/domain"
	"github.com/smallbiznis/corehours/internal/lock"
	mappingdomain "github.com/smallbiznis/corehours/internal/mapping/domain"
	"github.com/smallbiznis/corehours/internal/observability/logger"
	"github.com/smallbiznis/corehours/internal/observability/metrics"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	walletdomain "github.com/smallbiznis/corehours/internal/wallet/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lockKey = "corehours:ingest:lock"
	lockTTL = 30 * time.Minute
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.IngestConfig
	Repo        domain.Repository
	JobRepo     jobdomain.Repository
	WalletRepo  walletdomain.Repository
	Mappings    mappingdomain.Service
	Provisioner userdomain.Provisioner
	Locker      lock.Locker            `optional:"true"`
	Metrics     *metrics.IngestMetrics `optional:"true"`
	Otel        *metrics.Metrics       `optional:"true"`
}

// Service coordinates detection, parsing, attribution and the per-file load.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.IngestConfig
	repo        domain.Repository
	jobRepo     jobdomain.Repository
	walletRepo  walletdomain.Repository
	mappings    mappingdomain.Service
	provisioner userdomain.Provisioner
	locker      lock.Locker
	metrics     *metrics.IngestMetrics
	otel        *metrics.Metrics
	tracer      trace.Tracer

	parser    *parser.Parser
	parserErr error
}

func New(p Params) (domain.Service, error) {
	cfg := p.Config.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	svc := &Service{
		db:          p.DB,
		log:         p.Log.Named("ingest.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         cfg,
		repo:        p.Repo,
		jobRepo:     p.JobRepo,
		walletRepo:  p.WalletRepo,
		mappings:    p.Mappings,
		provisioner: p.Provisioner,
		locker:      p.Locker,
		metrics:     p.Metrics,
		otel:        p.Otel,
		tracer:      otel.Tracer("corehours/ingest"),
	}
	if svc.locker == nil {
		svc.locker = lock.NewLocal()
	}
	// A schema missing required columns fails every file rather than the process.
	svc.parser, svc.parserErr = parser.New(cfg.Columns, cfg.StatusMap)
	if svc.parserErr != nil {
		svc.log.Error("log schema is missing required columns", zap.Error(svc.parserErr))
	}
	return svc, nil
}

func (s *Service) Run(ctx context.Context, req domain.RunRequest) (domain.RunSummary, error) {
	req.File = strings.TrimSpace(req.File)
	if req.Force && req.File == "" {
		return domain.RunSummary{}, domain.ErrForceRequiresFile
	}

	summary := domain.RunSummary{
		RunID:     ulid.Make().String(),
		StartedAt: s.clock.Now(),
	}
	ctx = logger.WithRunID(ctx, summary.RunID)
	ctx, span := s.tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("ingest.run_id", summary.RunID),
		attribute.String("ingest.file", req.File),
		attribute.Bool("ingest.force", req.Force),
	))
	defer span.End()
	log := logger.WithContext(ctx, s.log)

	token, ok, err := s.locker.TryLock(ctx, lockKey, lockTTL)
	if err != nil {
		span.RecordError(err)
		return summary, fmt.Errorf("acquire ingest lock: %w", err)
	}
	if !ok {
		return summary, domain.ErrRunInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warn("release ingest lock", zap.Error(err))
		}
	}()

	candidates, unchanged, err := s.plan(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}
	summary.Unchanged = unchanged
	for range unchanged {
		s.metrics.IncFile("unchanged", metrics.FileOutcomeSkipped)
	}
	if len(candidates) == 0 {
		log.Info("no new or modified log files", zap.Int("unchanged", len(unchanged)))
		s.metrics.MarkRun(s.clock.Now())
		return summary, nil
	}

	rules, err := s.mappings.Rules(ctx)
	if err != nil {
		span.RecordError(err)
		return summary, fmt.Errorf("load mapping rules: %w", err)
	}
	resolver := attribution.NewResolver(rules)

	log.Info("ingestion started", zap.Int("files", len(candidates)))
	for _, c := range candidates {
		summary.Files = append(summary.Files, s.processFile(ctx, c, resolver))
	}
	s.metrics.MarkRun(s.clock.Now())

	span.SetAttributes(
		attribute.Int("ingest.files", len(summary.Files)),
		attribute.Int("ingest.failed", summary.Failed()),
		attribute.Int("ingest.inserted", summary.Inserted()),
	)
	log.Info("ingestion finished",
		zap.Int("files", len(summary.Files)),
		zap.Int("failed", summary.Failed()),
		zap.Int("inserted", summary.Inserted()),
	)
	return summary, nil
}

// plan selects the files to load. A named file bypasses checksum detection.
func (s *Service) plan(ctx context.Context, req domain.RunRequest) ([]domain.Candidate, []string, error) {
	detector := checksum.Detector{
		Dir:       s.cfg.LogDirectory,
		Suffix:    s.cfg.FileSuffix,
		ChunkSize: s.cfg.ChecksumChunkSize,
	}

	if req.File != "" {
		if filepath.Base(req.File) != req.File {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, req.File)
		}
		path := filepath.Join(detector.Dir, req.File)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrFileNotFound, req.File)
		}
		mode := domain.ModeNew
		if req.Force {
			mode = domain.ModeForce
		}
		return []domain.Candidate{{Filename: req.File, Path: path, Mode: mode}}, nil, nil
	}

	processed, err := s.repo.Checksums(ctx, s.db)
	if err != nil {
		return nil, nil, fmt.Errorf("load processed files: %w", err)
	}
	detection, err := detector.Detect(processed)
	if err != nil {
		return nil, nil, err
	}

	// Sorted by name regardless of whether the file is new or modified.
	modified := make(map[string]struct{}, len(detection.Modified))
	for _, name := range detection.Modified {
		modified[name] = struct{}{}
	}
	names := append(append([]string(nil), detection.New...), detection.Modified...)
	slices.Sort(names)

	candidates := make([]domain.Candidate, 0, len(names))
	for _, name := range names {
		mode := domain.ModeNew
		if _, ok := modified[name]; ok {
			mode = domain.ModeModified
		}
		candidates = append(candidates, domain.Candidate{
			Filename: name,
			Path:     filepath.Join(detector.Dir, name),
			Mode:     mode,
		})
	}
	return candidates, detection.Unchanged, nil
}

func (s *Service) processFile(ctx context.Context, c domain.Candidate, resolver *attribution.Resolver) domain.FileResult {
	started := time.Now()
	ctx = logger.WithFile(ctx, c.Filename)
	ctx, span := s.tracer.Start(ctx, "ingest.file", trace.WithAttributes(
		attribute.String("ingest.filename", c.Filename),
		attribute.String("ingest.mode", string(c.Mode)),
	))
	defer span.End()
	log := logger.WithContext(ctx, s.log)

	result, err := s.loadFile(ctx, c, resolver)
	result.Filename = c.Filename
	result.Mode = c.Mode
	result.Duration = time.Since(started)

	outcome := metrics.FileOutcomeSuccess
	if err != nil {
		outcome = metrics.FileOutcomeFailure
		result.Err = err
		result.Error = err.Error()
		result.Inserted = 0
		result.Deleted = 0
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("file ingestion failed, rolled back", zap.Error(err))
	} else {
		log.Info("file ingested",
			zap.String("mode", string(c.Mode)),
			zap.Int("parsed", result.Parsed),
			zap.Int("dropped", result.Dropped),
			zap.Int("duplicates", result.Duplicates),
			zap.Int64("deleted", result.Deleted),
			zap.Int("inserted", result.Inserted),
			zap.Duration("duration", result.Duration),
		)
	}

	s.metrics.IncFile(string(c.Mode), outcome)
	s.metrics.ObserveFileDuration(string(c.Mode), result.Duration)
	s.otel.RecordFileProcessed(ctx, string(c.Mode), outcome)
	return result
}

func (s *Service) loadFile(ctx context.Context, c domain.Candidate, resolver *attribution.Resolver) (domain.FileResult, error) {
	var result domain.FileResult
	if s.parserErr != nil {
		return result, s.parserErr
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return result, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	// The recorded checksum covers exactly the bytes that were parsed.
	reader, digest := checksum.Tee(f)
	parsed, err := s.parser.Parse(reader, c.Filename)
	if err != nil {
		return result, fmt.Errorf("read: %w", err)
	}
	result.Checksum = digest()
	result.Lines = parsed.Lines
	result.Parsed = len(parsed.Jobs)
	result.Dropped = parsed.DroppedTotal()
	for reason, n := range parsed.Dropped {
		s.metrics.AddRowsDropped(reason, n)
	}

	resolver.Apply(parsed.Jobs)

	inserted := map[jobdomain.ResourceType]int{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.Mode.Replaces() {
			deleted, err := s.jobRepo.DeleteBySourceFile(ctx, tx, c.Filename)
			if err != nil {
				return fmt.Errorf("delete existing jobs: %w", err)
			}
			result.Deleted = deleted
		}

		existing, err := s.jobRepo.ExistingJobIDs(ctx, tx, c.Filename)
		if err != nil {
			return fmt.Errorf("load existing job ids: %w", err)
		}

		now := s.clock.Now()
		batch := make([]*jobdomain.Job, 0, len(parsed.Jobs))
		wallets := map[string]struct{}{}
		users := map[string]struct{}{}
		for i := range parsed.Jobs {
			job := &parsed.Jobs[i]
			if _, dup := existing[job.JobID]; dup {
				result.Duplicates++
				continue
			}
			existing[job.JobID] = struct{}{}

			job.ID = s.genID.Generate()
			job.CreatedAt = now
			batch = append(batch, job)
			if job.WalletName != nil {
				wallets[*job.WalletName] = struct{}{}
			}
			if job.UserName != "" {
				users[job.UserName] = struct{}{}
			}
		}

		for _, name := range slices.Sorted(maps.Keys(wallets)) {
			created, err := s.ensureWallet(ctx, tx, name, now)
			if err != nil {
				return fmt.Errorf("ensure wallet %q: %w", name, err)
			}
			if created {
				result.Wallets++
			}
		}
		for _, name := range slices.Sorted(maps.Keys(users)) {
			if err := s.provisioner.EnsureUserExists(ctx, tx, name); err != nil {
				return fmt.Errorf("ensure user %q: %w", name, err)
			}
		}

		if err := s.jobRepo.BatchInsert(ctx, tx, batch, s.cfg.InsertBatchSize); err != nil {
			return fmt.Errorf("insert jobs: %w", err)
		}
		for _, job := range batch {
			inserted[job.ResourceType]++
		}
		result.Inserted = len(batch)

		return s.repo.Upsert(ctx, tx, &domain.ProcessedFile{
			ID:            s.genID.Generate(),
			Filename:      c.Filename,
			Checksum:      result.Checksum,
			LastProcessed: now,
		})
	})
	if err != nil {
		return result, err
	}

	s.metrics.AddDuplicates(string(c.Mode), result.Duplicates)
	for rt, n := range inserted {
		s.metrics.AddRowsInserted(string(rt), n)
		s.otel.RecordJobsIngested(ctx, string(rt), n)
	}
	return result, nil
}

func (s *Service) ensureWallet(ctx context.Context, tx *gorm.DB, name string, now time.Time) (bool, error) {
	wallet, err := s.walletRepo.FindByName(ctx, tx, name)
	if err != nil {
		return false, err
	}
	if wallet != nil {
		return false, nil
	}
	if err := s.walletRepo.Insert(ctx, tx, &walletdomain.Wallet{
		ID:        s.genID.Generate(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return false, err
	}
	logger.WithContext(ctx, s.log).Info("created wallet", zap.String("wallet", name))
	return true, nil
}

func (s *Service) ClearProcessedFiles(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteAll(ctx, s.db)
	if err != nil {
		return 0, err
	}
	s.log.Info("cleared processed file records", zap.Int64("count", n))
	return n, nil
}

func (s *Service) ClearJobs(ctx context.Context) (int64, error) {
	n, err := s.jobRepo.DeleteAll(ctx, s.db)
	if err != nil {
		return 0, err
	}
	s.log.Info("cleared jobs", zap.Int64("count", n))
	return n, nil
}

func (s *Service) ListProcessedFiles(ctx context.Context) ([]domain.ProcessedFile, error) {
	return s.repo.List(ctx, s.db)
}
