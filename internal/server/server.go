// Package server exposes the websocket endpoints glasses and apps connect
// to, plus health and metrics. It owns the HTTP edge only; everything after
// the upgrade is handled by the session core.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lenslink/cloud/internal/auth"
	"github.com/lenslink/cloud/internal/logger"
	"github.com/lenslink/cloud/internal/session"
)

// Server wires the HTTP routes to the session registry.
type Server struct {
	log       *logger.Logger
	registry  *session.Registry
	validator auth.TokenValidator
	router    *gin.Engine
}

// New builds the router. The caller owns the http.Server lifecycle.
func New(registry *session.Registry, validator auth.TokenValidator, log *logger.Logger) *Server {
	s := &Server{
		log:       log.WithComponent("server"),
		registry:  registry,
		validator: validator,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestContext())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/glasses-ws", s.handleGlassesWS)
	router.GET("/app-ws", s.handleAppWS)

	router.POST("/apps/start", s.handleAppStart)
	router.POST("/apps/stop", s.handleAppStop)

	s.router = router
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestContext assigns each request an id so edge logs can be correlated
// with the session logs they lead to.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logger.WithRequestID(c.Request.Context(), logger.GenerateRequestID())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.registry.Count(),
	})
}
