package server

import (
	"errors"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/corehours/internal/authorization"
	obslogger "github.com/smallbiznis/corehours/internal/observability/logger"
	userdomain "github.com/smallbiznis/corehours/internal/user/domain"
	"go.uber.org/zap"
)

const actorKey = "actor"

// AuthRequired authenticates HTTP basic credentials against registered users.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="corehours"`)
			AbortWithError(c, ErrUnauthorized)
			return
		}
		user, err := s.users.Authenticate(c.Request.Context(), username, password)
		if err != nil {
			if errors.Is(err, userdomain.ErrInvalidCredentials) {
				c.Header("WWW-Authenticate", `Basic realm="corehours"`)
			}
			AbortWithError(c, err)
			return
		}
		c.Set(actorKey, authorization.UserActor(user.Username))
		c.Next()
	}
}

func (s *Server) RequirePermission(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authzSvc.Authorize(c.Request.Context(), c.GetString(actorKey), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// RateLimit throttles each authenticated actor. Limiter failures let the
// request through.
func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		res, err := s.limiter.Allow(c.Request.Context(), c.GetString(actorKey))
		if err != nil {
			obslogger.FromContext(c.Request.Context()).Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
