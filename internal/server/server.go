// Package server wires the HTTP API together
package server

import (
	"context"
	"time"

	"leadflow/internal/cache"
	"leadflow/internal/config"
	"leadflow/internal/conversations"
	"leadflow/internal/handlers"
	"leadflow/internal/leads"
	"leadflow/internal/queue"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"
)

// Server represents the application server
type Server struct {
	echo     *echo.Echo
	db       *sqlx.DB
	config   *config.Config
	logger   zerolog.Logger
	cache    *cache.Cache
	producer *queue.Producer
	convs    *conversations.Manager
	leads    *leads.Manager
}

// New creates a new server instance
func New(cfg *config.Config, db *sqlx.DB, logger zerolog.Logger, producer *queue.Producer, convs *conversations.Manager, leadMgr *leads.Manager) *Server {
	return &Server{
		config:   cfg,
		db:       db,
		logger:   logger,
		cache:    cache.New(),
		producer: producer,
		convs:    convs,
		leads:    leadMgr,
	}
}

// zerologMiddleware creates a zerolog-based logging middleware for Echo
func (s *Server) zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			s.logger.Info().
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP()).
				Int("status", res.Status).
				Int64("latency_ms", time.Since(start).Milliseconds()).
				Str("user_agent", req.UserAgent()).
				Msg("HTTP request")

			return err
		}
	}
}

// Initialize sets up the Echo framework with middleware and routes
func (s *Server) Initialize() {
	s.echo = echo.New()

	// Middleware
	s.echo.Use(s.zerologMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	// Hide Echo banner
	s.echo.HideBanner = true

	// Setup routes
	s.setupRoutes()
}

// setupRoutes configures all the application routes
func (s *Server) setupRoutes() {
	// API group with /api prefix
	api := s.echo.Group("/api")

	// Swagger documentation
	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)

	// Health endpoints (keep at root level for monitoring)
	s.echo.GET("/health", handlers.HealthHandler(s.config.Version))
	s.echo.GET("/health/db", handlers.DBHealthHandler(s.db))

	// Email ingestion
	api.POST("/emails", handlers.IngestEmailHandler(s.producer))
	api.POST("/messages/outbound", handlers.RecordOutboundHandler(s.db, s.convs, s.leads, s.cache))

	// Conversation reads
	api.GET("/conversations", handlers.ListConversationsHandler(s.convs))
	api.GET("/conversations/:id", handlers.GetConversationHandler(s.convs, s.cache))
	api.GET("/leads/:id/conversation", handlers.GetLeadConversationHandler(s.convs))
	api.GET("/leads/:id/timeline", handlers.GetLeadTimelineHandler(s.convs, s.cache))

	// Admin
	api.POST("/admin/backfill", handlers.TriggerBackfillHandler(s.config))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("port", s.config.Port).Msg("Server starting")
	return s.echo.Start(":" + s.config.Port)
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
