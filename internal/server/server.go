package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/corehours/internal/authorization"
	"github.com/smallbiznis/corehours/internal/config"
	ingestdomain "github.com/smallbiznis/corehours/internal/ingest/domain"
	obslogger "github.com/smallbiznis/corehours/internal/observability/logger"
	obstracing "github.com/smallbiznis/corehours/internal/observability/tracing"
	"github.com/smallbiznis/corehours/internal/ratelimit"
	usagedomain "github.com/smallbiznis/corehours/internal/usage/domain"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the read-only usage API. It expects the domain modules to be
// provided by the caller.
var Module = fx.Module("http.server",
	fx.Provide(NewServer),
	fx.Invoke(run),
)

type Params struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Usage  usagedomain.Service
	Ingest ingestdomain.Service
	Users  userdomain.Service
	Authz  authorization.Service
	Limit  ratelimit.Limiter `optional:"true"`
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	usageSvc usagedomain.Service
	ingest   ingestdomain.Service
	users    userdomain.Service
	authzSvc authorization.Service
	limiter  ratelimit.Limiter
}

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:   NewEngine(p.Log),
		cfg:      p.Cfg,
		log:      p.Log.Named("http.server"),
		usageSvc: p.Usage,
		ingest:   p.Ingest,
		users:    p.Users,
		authzSvc: p.Authz,
		limiter:  p.Limit,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.AuthRequired(), s.RateLimit())

	usage := api.Group("/usage", s.RequirePermission(authorization.ObjectUsage, authorization.ActionUsageView))
	usage.GET("/kpi", s.GetKPI)
	usage.GET("/timeseries", s.GetUsageOverTime)
	usage.GET("/top/users", s.GetTopUsers)
	usage.GET("/top/groups", s.GetTopGroups)
	usage.GET("/top/wallets", s.GetTopWallets)
	usage.GET("/status", s.GetStatusDistribution)
	usage.GET("/queues", s.GetUsageByQueue)
	usage.GET("/queues/runtime", s.GetAvgRuntimeByQueue)
	usage.GET("/queues/wait", s.GetAvgWaitByQueue)
	usage.GET("/heatmap", s.GetPeakHeatmap)
	usage.GET("/failures/groups", s.GetFailureRateByGroup)
	usage.GET("/failures/users", s.GetFailureRateByUser)
	usage.GET("/wallets", s.GetWalletUsage)
	usage.GET("/range", s.GetJobDateRange)
	usage.GET("/jobs", s.ListJobs)
	usage.GET("/users", s.ListUsers)
	usage.GET("/groups", s.ListGroups)
	usage.GET("/queue-names", s.ListQueues)
	usage.GET("/report", s.GetReport)
	usage.GET("/active", s.GetActiveResources)

	api.GET("/ingest/files", s.RequirePermission(authorization.ObjectUsage, authorization.ActionUsageView), s.ListProcessedFiles)
}

func run(lc fx.Lifecycle, s *Server, shutdowner fx.Shutdowner) {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
