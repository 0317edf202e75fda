package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"packplan/internal/observability"
)

const requestIDHeader = "X-Request-ID"

func (s *Server) buildRouter(allowOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestIDMiddleware())
	router.Use(s.loggingMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(allowOrigins) > 0 {
		corsConfig.AllowOrigins = allowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "Idempotency-Key", requestIDHeader)
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		sessions := api.Group("/learners/:learner_id/sessions/:session_id")
		sessions.POST("/plan", s.handlePlanNext)
		sessions.GET("/pack", s.handleFetchPack)
		sessions.POST("/served", s.handleMarkServed)
		sessions.POST("/completed", s.handleComplete)
	}

	return router
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		ctx := observability.ContextWithTraceID(c.Request.Context(), requestID)
		if learnerID := c.Param("learner_id"); learnerID != "" {
			ctx = observability.ContextWithLearnerID(ctx, learnerID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		s.metrics.RecordHTTPRequest(c.Request.Context(), route, c.Request.Method, status, elapsed)
		if status >= 500 {
			s.logger.Error("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, status, elapsed)
		} else {
			s.logger.Debug("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, status, elapsed)
		}
	}
}
