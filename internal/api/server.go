package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amaumene/debridarr/internal/api/handlers"
	"github.com/amaumene/debridarr/internal/api/middleware"
	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server represents the HTTP server
type Server struct {
	app    *fiber.App
	addr   string
	logger zerolog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, db *models.Database, queue handlers.Queue, admin handlers.Admin, registry *prometheus.Registry, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()
	port := cfg.ServerPort
	if port == "" {
		port = "8080"
	}
	s := &Server{
		addr:   ":" + port,
		logger: logger,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "debridarr",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		IdleTimeout:           60 * time.Second,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(middleware.Logging(logger))
	s.setupRoutes(db, queue, admin, registry)
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(db *models.Database, queue handlers.Queue, admin handlers.Admin, registry *prometheus.Registry) {
	health := handlers.NewHealthHandler()
	s.app.Get("/health", health.Handle)

	status := handlers.NewStatusHandler(db, queue, s.logger)
	s.app.Get("/status", status.Handle)

	if registry != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := s.app.Group("/api")

	items := handlers.NewItemsHandler(db, admin, queue, s.logger)
	api.Get("/items", items.List)
	api.Get("/items/:id", items.Get)
	api.Post("/items/:id/rescrape", items.Rescrape)
	api.Delete("/items/:id", items.Purge)

	api.Post("/queue/pause", status.Pause)
	api.Post("/queue/resume", status.Resume)

	webhook := handlers.NewWebhookHandler(queue, s.logger)
	api.Post("/webhook/torbox", webhook.Handle)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Str("addr", s.addr).Msg("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(s.addr); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.app.ShutdownWithTimeout(10 * time.Second)
}
