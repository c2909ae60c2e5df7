// Package api exposes the triage engine over HTTP: log ingestion, detection
// and analysis triggers, and incident reads.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// Server wraps the HTTP listener around the handler set.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer builds the gin router, wraps it with permissive CORS, and binds
// it to addr.
func NewServer(addr string, handlers *Handlers, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	handlers.Register(router)

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           cors.AllowAll().Handler(router),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving requests until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}
