package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/corehours/internal/authorization"
	"github.com/smallbiznis/corehours/internal/config"
	"github.com/smallbiznis/corehours/internal/ingest/domain"
	"github.com/smallbiznis/corehours/internal/ingest/watcher"
	"github.com/smallbiznis/corehours/internal/migration"
	"github.com/smallbiznis/corehours/internal/observability/push"
	"github.com/smallbiznis/corehours/internal/server"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (c *cli) registerIngest(app *kingpin.Application) {
	ingestCmd := app.Command("ingest", "Load new and modified log files into the database.")
	file := ingestCmd.Flag("file", "Only process this file name from the log directory.").String()
	force := ingestCmd.Flag("force", "Delete and reload --file even when its checksum is unchanged.").Bool()
	c.handle(ingestCmd, func() (action, []fx.Option, []any) {
		var (
			a      admin
			svc    domain.Service
			pusher push.Pusher
			log    *zap.Logger
		)
		return func(ctx context.Context, _ *fx.App) error {
			if err := c.authorize(ctx, &a, authorization.ObjectIngest, authorization.ActionIngestRun); err != nil {
				return err
			}
			summary, err := svc.Run(ctx, domain.RunRequest{File: *file, Force: *force})
			if pusher != nil {
				if perr := pusher.Push(ctx, prometheus.DefaultGatherer); perr != nil {
					log.Warn("metrics push failed", zap.Error(perr))
				}
			}
			if err != nil {
				return err
			}
			if err := c.printSummary(summary); err != nil {
				return err
			}
			if failed := summary.Failed(); failed > 0 {
				return fmt.Errorf("%d file(s) failed to load", failed)
			}
			return nil
		}, nil, []any{&a, &svc, &pusher, &log}
	})

	processed := app.Command("processed", "Inspect or reset processed-file checksums.")
	processedList := processed.Command("list", "List processed files and their checksums.")
	c.handle(processedList, func() (action, []fx.Option, []any) {
		var svc domain.Service
		return func(ctx context.Context, _ *fx.App) error {
			files, err := svc.ListProcessedFiles(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(files))
			for _, f := range files {
				rows = append(rows, []string{f.Filename, f.Checksum, f.LastProcessed.Format(time.RFC3339)})
			}
			return c.printer().print(files, []string{"FILE", "CHECKSUM", "LAST PROCESSED"}, rows)
		}, nil, []any{&svc}
	})
	processedClear := processed.Command("clear", "Forget every checksum so the next run reloads all files.")
	c.handle(processedClear, func() (action, []fx.Option, []any) {
		var (
			a   admin
			svc domain.Service
		)
		return func(ctx context.Context, _ *fx.App) error {
			if err := c.authorize(ctx, &a, authorization.ObjectData, authorization.ActionDataClear); err != nil {
				return err
			}
			n, err := svc.ClearProcessedFiles(ctx)
			if err != nil {
				return err
			}
			c.printer().message("cleared %d processed file record(s)", n)
			return nil
		}, nil, []any{&a, &svc}
	})

	jobs := app.Command("jobs", "Manage stored job records.")
	jobsClear := jobs.Command("clear", "Delete every stored job.")
	yes := jobsClear.Flag("yes", "Confirm deleting all jobs.").Bool()
	c.handle(jobsClear, func() (action, []fx.Option, []any) {
		var (
			a   admin
			svc domain.Service
		)
		return func(ctx context.Context, _ *fx.App) error {
			if !*yes {
				return fmt.Errorf("refusing to delete all jobs without --yes")
			}
			if err := c.authorize(ctx, &a, authorization.ObjectData, authorization.ActionDataClear); err != nil {
				return err
			}
			n, err := svc.ClearJobs(ctx)
			if err != nil {
				return err
			}
			c.printer().message("deleted %d job(s)", n)
			return nil
		}, nil, []any{&a, &svc}
	})

	watch := app.Command("watch", "Ingest continuously as the log directory changes.")
	debounce := watch.Flag("debounce", "Quiet period after a file event before ingesting.").Default(watcher.DefaultDebounce.String()).Duration()
	interval := watch.Flag("interval", "Ingest at least this often; 0 disables.").Default(watcher.DefaultInterval.String()).Duration()
	c.handle(watch, func() (action, []fx.Option, []any) {
		var authz authorization.Service
		opts := []fx.Option{
			fx.Supply(watcher.Config{Debounce: *debounce, Interval: *interval}),
			watcher.Module,
		}
		return func(ctx context.Context, app *fx.App) error {
			if err := authz.Authorize(ctx, "system", authorization.ObjectIngest, authorization.ActionIngestRun); err != nil {
				return err
			}
			return wait(ctx, app)
		}, opts, []any{&authz}
	})

	serve := app.Command("serve", "Serve the read-only usage API.")
	c.handle(serve, func() (action, []fx.Option, []any) {
		return nil, []fx.Option{server.Module}, nil
	})

	migrate := app.Command("migrate", "Apply database schema migrations.")
	c.handle(migrate, func() (action, []fx.Option, []any) {
		var (
			conn *gorm.DB
			cfg  config.Config
			log  *zap.Logger
		)
		return func(context.Context, *fx.App) error {
			if err := migration.Apply(conn, cfg, log); err != nil {
				return err
			}
			c.printer().message("schema is up to date")
			return nil
		}, nil, []any{&conn, &cfg, &log}
	})
}

func (c *cli) printSummary(s domain.RunSummary) error {
	rows := make([][]string, 0, len(s.Files))
	for _, f := range s.Files {
		status := "ok"
		if !f.Succeeded() {
			status = f.Error
		}
		rows = append(rows, []string{
			f.Filename,
			string(f.Mode),
			strconv.Itoa(f.Lines),
			strconv.Itoa(f.Parsed),
			strconv.Itoa(f.Dropped),
			strconv.Itoa(f.Duplicates),
			strconv.FormatInt(f.Deleted, 10),
			strconv.Itoa(f.Inserted),
			status,
		})
	}
	if err := c.printer().print(s, []string{"FILE", "MODE", "LINES", "PARSED", "DROPPED", "DUPLICATES", "DELETED", "INSERTED", "STATUS"}, rows); err != nil {
		return err
	}
	if c.output == "table" {
		c.printer().message("run %s: %d file(s), %d unchanged, %d job(s) inserted", s.RunID, len(s.Files), len(s.Unchanged), s.Inserted())
	}
	return nil
}
