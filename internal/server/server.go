// Package server assembles the HTTP surface: the gin router, shared
// middleware, catalog endpoints and the websocket event feed.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/ferrite-media/ferrite/internal/config"
	"github.com/ferrite-media/ferrite/internal/events"
	"github.com/ferrite-media/ferrite/internal/logger"
)

// RouteRegistrar lets each module mount its own endpoints.
type RouteRegistrar interface {
	RegisterRoutes(r *gin.Engine)
}

// Server is the HTTP front of the application.
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	http   *http.Server
	db     *gorm.DB
	bus    *events.Bus
	log    hclog.Logger
}

// New builds the router and mounts the core plus every module's routes.
func New(cfg *config.Config, db *gorm.DB, bus *events.Bus, modules ...RouteRegistrar) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	if cfg.Server.EnableCORS {
		engine.Use(corsMiddleware())
	}

	s := &Server{
		cfg:    cfg,
		engine: engine,
		db:     db,
		bus:    bus,
		log:    logger.Named("server"),
	}
	s.registerCoreRoutes()
	for _, m := range modules {
		m.RegisterRoutes(engine)
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		// Streaming responses outlive any sane write timeout; the encoder
		// kill path handles dead clients instead.
		WriteTimeout: 0,
	}
	return s
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger logs one line per request at debug level.
func requestLogger() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}

// corsMiddleware opens the API to browser clients and exposes the custom
// streaming headers players read.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Range")
		c.Header("Access-Control-Expose-Headers",
			"X-Seek-Actual, X-Content-Duration, X-Total-Duration, X-Session-ID, x-hls-start-secs, Content-Range, Accept-Ranges")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
