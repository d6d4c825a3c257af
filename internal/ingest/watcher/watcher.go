// Package watcher re-runs ingestion when the log directory changes.
package watcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/corehours/internal/config"
	"github.com/smallbiznis/corehours/internal/ingest/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultDebounce = 2 * time.Second
	DefaultInterval = 15 * time.Minute
)

type Config struct {
	// Debounce coalesces bursts of writes into one run.
	Debounce time.Duration
	// Interval forces a run even without events. Zero disables it.
	Interval time.Duration
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Ingest  config.IngestConfig
	Service domain.Service
	Config  Config `optional:"true"`
}

type Watcher struct {
	log    *zap.Logger
	dir    string
	suffix string
	svc    domain.Service
	cfg    Config
	onRun  func(domain.RunSummary, error)
}

func New(p Params) *Watcher {
	cfg := p.Config
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	ingest := p.Ingest.Normalized()
	return &Watcher{
		log:    p.Log.Named("ingest.watcher"),
		dir:    ingest.LogDirectory,
		suffix: ingest.FileSuffix,
		svc:    p.Service,
		cfg:    cfg,
	}
}

// Run blocks until ctx is done. It ingests once at start, then after every
// debounced burst of matching file events.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.log.Info("watching log directory",
		zap.String("dir", w.dir),
		zap.Duration("debounce", w.cfg.Debounce),
		zap.Duration("interval", w.cfg.Interval),
	)

	w.ingest(ctx)

	var (
		debounce *time.Timer
		fire     <-chan time.Time
		tick     <-chan time.Time
	)
	if w.cfg.Interval > 0 {
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.log.Debug("log directory event", zap.String("name", event.Name), zap.String("op", event.Op.String()))
			if debounce == nil {
				debounce = time.NewTimer(w.cfg.Debounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.cfg.Debounce)
			}
			fire = debounce.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-fire:
			fire = nil
			w.ingest(ctx)

		case <-tick:
			w.ingest(ctx)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	return w.suffix == "" || strings.HasSuffix(event.Name, w.suffix)
}

func (w *Watcher) ingest(ctx context.Context) {
	summary, err := w.svc.Run(ctx, domain.RunRequest{})
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		w.log.Info("another ingestion run holds the lock, skipping")
	case err != nil:
		w.log.Error("ingestion run failed", zap.Error(err))
	default:
		w.log.Info("ingestion run complete",
			zap.String("run_id", summary.RunID),
			zap.Int("files", len(summary.Files)),
			zap.Int("failed", summary.Failed()),
			zap.Int("inserted", summary.Inserted()),
		)
	}
	if w.onRun != nil {
		w.onRun(summary, err)
	}
}

// Start runs the watcher for the lifetime of the fx app.
func Start(lc fx.Lifecycle, w *Watcher, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			go func() {
				defer close(done)
				if err := w.Run(ctx); err != nil {
					w.log.Error("watcher stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
			return nil
		},
	})
}

var Module = fx.Module("ingest.watcher",
	fx.Provide(New),
	fx.Invoke(Start),
)
