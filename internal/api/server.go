// Package api exposes the pipeline engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/infragen/internal/health"
	"github.com/p-blackswan/infragen/internal/metrics"
	"github.com/p-blackswan/infragen/internal/pipeline"
	"github.com/p-blackswan/infragen/internal/project"
	"github.com/p-blackswan/infragen/internal/store"
)

// ServerConfig holds configuration for the HTTP API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
	BodyLimit   int
}

// Pipeline is the engine surface the API drives.
type Pipeline interface {
	Start(ctx context.Context, req pipeline.RunRequest) (*project.Project, error)
	Current() *project.Project
	Chat(ctx context.Context, message string) (*pipeline.ChatResult, error)
}

// History reads recorded runs. It is optional.
type History interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
}

// Deps are the collaborators handed to the server.
type Deps struct {
	Pipeline Pipeline
	History  History
	Checker  *health.Checker
	Metrics  *metrics.Metrics
	Defaults project.AgentConfig
	// RunContext parents background runs so they outlive the request.
	RunContext context.Context
}

// Server is the API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   ServerConfig
	done     chan struct{}
}

// NewServer creates and configures a new API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             cfg.BodyLimit,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:      app,
		handlers: NewHandlers(deps, logger),
		logger:   logger.With().Str("component", "api_server").Logger(),
		config:   cfg,
		done:     make(chan struct{}),
	}

	s.setupMiddleware(cfg, logger)
	s.setupRoutes(s.handlers, deps.Metrics)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID: reuse the caller's when present
	s.app.Use(func(c *fiber.Ctx) error {
		reqID := c.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods:  "GET, POST, OPTIONS",
			ExposeHeaders: "Content-Disposition, X-Request-ID",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit, s.done))
	}

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, logger))

	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if isHealthPath(path) {
			return c.Next()
		}

		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("api request")

		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, m *metrics.Metrics) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	v1 := s.app.Group("/api/v1")

	v1.Post("/runs", h.StartRun)
	v1.Get("/runs", h.ListRuns)
	v1.Get("/runs/:id", h.GetRun)

	v1.Get("/project", h.GetProject)
	v1.Get("/project/files", h.ListFiles)
	v1.Get("/project/files/*", h.DownloadFile)

	v1.Post("/chat", h.Chat)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		title := utils.StatusMessage(code)
		errType := "http_error"
		// Don't leak internal details
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
			errType = "internal_error"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     errType,
			Title:    title,
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
