package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/corehours/internal/usage/domain"
)

func respond[T any](c *gin.Context, v T, err error) {
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// filtered binds the common filter query parameters before calling fn.
func filtered[T any](c *gin.Context, fn func(usagedomain.Filter) (T, error)) {
	f, err := parseFilter(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	v, err := fn(f)
	respond(c, v, err)
}

func limited[T any](c *gin.Context, fn func(usagedomain.Filter, int) (T, error)) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	filtered(c, func(f usagedomain.Filter) (T, error) { return fn(f, limit) })
}

func (s *Server) GetKPI(c *gin.Context) {
	filtered(c, func(f usagedomain.Filter) (usagedomain.KPI, error) {
		return s.usageSvc.KPI(c.Request.Context(), f)
	})
}

func (s *Server) GetUsageOverTime(c *gin.Context) {
	g := usagedomain.ParseGranularity(c.DefaultQuery("granularity", string(usagedomain.Daily)))
	filtered(c, func(f usagedomain.Filter) ([]usagedomain.UsagePoint, error) {
		return s.usageSvc.UsageOverTime(c.Request.Context(), f, g)
	})
}

func (s *Server) GetTopUsers(c *gin.Context) {
	limited(c, func(f usagedomain.Filter, limit int) ([]usagedomain.Ranked, error) {
		return s.usageSvc.TopUsers(c.Request.Context(), f, limit)
	})
}

func (s *Server) GetTopGroups(c *gin.Context) {
	limited(c, func(f usagedomain.Filter, limit int) ([]usagedomain.Ranked, error) {
		return s.usageSvc.TopGroups(c.Request.Context(), f, limit)
	})
}

func (s *Server) GetTopWallets(c *gin.Context) {
	limited(c, func(f usagedomain.Filter, limit int) ([]usagedomain.Ranked, error) {
		return s.usageSvc.TopWallets(c.Request.Context(), f, limit)
	})
}

func (s *Server) GetStatusDistribution(c *gin.Context) {
	filtered(c, func(f usagedomain.Filter) ([]usagedomain.StatusCount, error) {
		return s.usageSvc.StatusDistribution(c.Request.Context(), f)
	})
}

func (s *Server) GetUsageByQueue(c *gin.Context) {
	filtered(c, func(f usagedomain.Filter) ([]usagedomain.Ranked, error) {
		return s.usageSvc.UsageByQueue(c.Request.Context(), f)
	})
}

func (s *Server) GetAvgRuntimeByQueue(c *gin.Context) {
	filtered(c, func(f usagedomain.Filter) ([]usagedomain.QueueAverage, error) {
		return s.usageSvc.AvgRuntimeByQueue(c.Request.Context(), f)
	})
}

func (s *Server) GetAvgWaitByQueue(c *gin.Context) {
	filtered(c, func(f usagedomain.Filter) ([]usagedomain.QueueAverage, error) {
		return s.usageSvc.AvgWaitByQueue(c.Request.Context(), f)
	})
}

func (s *Server) GetPeakHeatmap(c *gin.Context) {
	filtered(c, func(f usagedomain.Filter) ([]usagedomain.HeatmapCell, error) {
		return s.usageSvc.PeakHeatmap(c.Request.Context(), f)
	})
}

func (s *Server) GetFailureRateByGroup(c *gin.Context) {
	limited(c, func(f usagedomain.Filter, limit int) ([]usagedomain.FailureRate, error) {
		return s.usageSvc.FailureRateByGroup(c.Request.Context(), f, limit)
	})
}

func (s *Server) GetFailureRateByUser(c *gin.Context) {
	limited(c, func(f usagedomain.Filter, limit int) ([]usagedomain.FailureRate, error) {
		return s.usageSvc.FailureRateByUser(c.Request.Context(), f, limit)
	})
}

func (s *Server) GetWalletUsage(c *gin.Context) {
	filtered(c, func(f usagedomain.Filter) ([]usagedomain.WalletHours, error) {
		return s.usageSvc.WalletUsage(c.Request.Context(), f)
	})
}

func (s *Server) GetJobDateRange(c *gin.Context) {
	v, err := s.usageSvc.JobDateRange(c.Request.Context())
	respond(c, v, err)
}

func (s *Server) ListJobs(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	pageSize, err := queryInt(c, "page_size")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	filtered(c, func(f usagedomain.Filter) (usagedomain.JobPage, error) {
		return s.usageSvc.ListJobs(c.Request.Context(), f, page, pageSize)
	})
}

func (s *Server) ListUsers(c *gin.Context) {
	v, err := s.usageSvc.Users(c.Request.Context())
	respond(c, gin.H{"users": v}, err)
}

func (s *Server) ListGroups(c *gin.Context) {
	v, err := s.usageSvc.Groups(c.Request.Context())
	respond(c, gin.H{"groups": v}, err)
}

func (s *Server) ListQueues(c *gin.Context) {
	v, err := s.usageSvc.Queues(c.Request.Context())
	respond(c, gin.H{"queues": v}, err)
}

func (s *Server) GetReport(c *gin.Context) {
	year, err := queryInt(c, "year")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	v, err := s.usageSvc.Report(c.Request.Context(), usagedomain.ReportRequest{
		Month:  c.Query("month"),
		Year:   year,
		User:   c.Query("user"),
		Wallet: c.Query("wallet"),
	})
	respond(c, v, err)
}

func (s *Server) GetActiveResources(c *gin.Context) {
	v, err := s.usageSvc.ActiveResources(c.Request.Context())
	respond(c, v, err)
}

func (s *Server) ListProcessedFiles(c *gin.Context) {
	v, err := s.ingest.ListProcessedFiles(c.Request.Context())
	respond(c, gin.H{"files": v}, err)
}
