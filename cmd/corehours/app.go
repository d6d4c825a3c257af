package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/corehours/internal/authorization"
	"github.com/smallbiznis/corehours/internal/cache"
	"github.com/smallbiznis/corehours/internal/clock"
	"github.com/smallbiznis/corehours/internal/config"
	"github.com/smallbiznis/corehours/internal/ingest"
	"github.com/smallbiznis/corehours/internal/job"
	"github.com/smallbiznis/corehours/internal/lock"
	"github.com/smallbiznis/corehours/internal/mapping"
	"github.com/smallbiznis/corehours/internal/migration"
	"github.com/smallbiznis/corehours/internal/observability"
	"github.com/smallbiznis/corehours/internal/ratelimit"
	"github.com/smallbiznis/corehours/internal/usage"
	"github.com/smallbiznis/corehours/internal/user"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	"github.com/smallbiznis/corehours/internal/wallet"
	"github.com/smallbiznis/corehours/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const startTimeout = 30 * time.Second

type action func(ctx context.Context, app *fx.App) error

type cli struct {
	configPath    string
	nodeID        int64
	output        string
	adminUser     string
	adminPassword string
	verbose       bool

	actions map[string]func() (action, []fx.Option, []any)
}

func newCLI(app *kingpin.Application) *cli {
	c := &cli{actions: map[string]func() (action, []fx.Option, []any){}}

	app.Flag("config", "Ingestion config file (log directory and schema).").Envar("INGEST_CONFIG").PlaceHolder("PATH").StringVar(&c.configPath)
	app.Flag("node-id", "Snowflake node id for generated ids.").Envar("COREHOURS_NODE_ID").Default("1").Int64Var(&c.nodeID)
	app.Flag("output", "Output format, one of [table, json].").Short('o').Default("table").EnumVar(&c.output, "table", "json")
	app.Flag("admin-user", "Administrator username for privileged commands.").Envar("COREHOURS_ADMIN_USER").StringVar(&c.adminUser)
	app.Flag("admin-password", "Administrator password for privileged commands.").Envar("COREHOURS_ADMIN_PASSWORD").StringVar(&c.adminPassword)
	app.Flag("verbose", "Log dependency wiring on stderr.").BoolVar(&c.verbose)

	c.registerIngest(app)
	c.registerAdmin(app)
	c.registerReports(app)
	return c
}

func (c *cli) handle(cmd *kingpin.CmdClause, fn func() (action, []fx.Option, []any)) {
	c.actions[cmd.FullCommand()] = fn
}

func (c *cli) run(ctx context.Context, command string) error {
	build, ok := c.actions[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	act, extra, targets := build()

	opts := append(c.modules(), extra...)
	if len(targets) > 0 {
		opts = append(opts, fx.Populate(targets...))
	}
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	if act == nil {
		return wait(ctx, app)
	}
	return act(ctx, app)
}

// wait blocks long-running commands until a signal or an fx shutdown.
func wait(ctx context.Context, app *fx.App) error {
	select {
	case <-ctx.Done():
		return nil
	case sig := <-app.Wait():
		if sig.ExitCode != 0 {
			return fmt.Errorf("exited with code %d", sig.ExitCode)
		}
		return nil
	}
}

func (c *cli) modules() []fx.Option {
	opts := []fx.Option{
		config.Module,
		fx.Decorate(func(cfg config.Config) config.Config {
			if path := strings.TrimSpace(c.configPath); path != "" {
				cfg.IngestConfigPath = path
			}
			return cfg
		}),
		observability.Module,
		fx.Provide(c.snowflakeNode),
		db.Module,
		clock.Module,
		cache.Module,
		lock.Module,
		job.Module,
		wallet.Module,
		mapping.Module,
		user.Module,
		ingest.Module,
		usage.Module,
		authorization.Module,
		ratelimit.Module,
		migration.Module,
	}
	if c.verbose {
		opts = append(opts, fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}))
	} else {
		opts = append(opts, fx.NopLogger)
	}
	return opts
}

func (c *cli) snowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(c.nodeID)
}

// admin is populated for commands that require an authenticated administrator.
type admin struct {
	fx.In

	Users userdomain.Service
	Authz authorization.Service
}

// authorize authenticates the --admin-user credentials and checks the
// permission for object and action.
func (c *cli) authorize(ctx context.Context, a *admin, object, action string) error {
	if strings.TrimSpace(c.adminUser) == "" {
		return fmt.Errorf("this command requires --admin-user and --admin-password")
	}
	u, err := a.Users.Authenticate(ctx, c.adminUser, c.adminPassword)
	if err != nil {
		return err
	}
	return a.Authz.Authorize(ctx, authorization.UserActor(u.Username), object, action)
}
