// Package api exposes a loaded reconciliation period over HTTP.
//
// Every engine command has a route; queries read from an engine snapshot.
// Engine errors are mapped to HTTP statuses by their error code.
package api

import (
	"context"
	"crypto/subtle"
	"time"

	"reconciliation-engine/internal/journal"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

const requestIDKey = "request_id"

// Config holds the HTTP server settings.
type Config struct {
	Addr         string        `mapstructure:"addr"`
	APIKey       string        `mapstructure:"api_key"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// EventStore is the read side of the event journal.
type EventStore interface {
	Session() string
	Events(ctx context.Context, session string) ([]journal.Record, error)
	Sessions(ctx context.Context) ([]journal.Session, error)
}

// Period describes the loaded period.
type Period struct {
	Account string `json:"account"`
	Source  string `json:"source"`
}

// Server serves one engine.
type Server struct {
	app    *fiber.App
	engine *reconciler.Engine
	events EventStore
	period Period
	config Config
	logger logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithEventStore enables the event routes.
func WithEventStore(store EventStore) Option {
	return func(s *Server) { s.events = store }
}

// WithPeriod sets the account and source shown by the period route.
func WithPeriod(p Period) Option {
	return func(s *Server) { s.period = p }
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer builds the fiber app and registers every route.
func NewServer(engine *reconciler.Engine, config Config, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		config: config,
		logger: logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(requestid.New(requestid.Config{ContextKey: requestIDKey}))
	s.app.Use(recover.New())
	s.app.Use(s.logRequests)

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := s.app.Group("/api/v1")
	if config.APIKey != "" {
		v1.Use(s.requireAPIKey)
	}
	s.registerRoutes(v1)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("Starting server")
		errCh <- s.app.Listen(s.config.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		return s.app.ShutdownWithTimeout(10 * time.Second)
	}
}

// requestLogger returns the logger tagged with the request id.
func (s *Server) requestLogger(c *fiber.Ctx) logger.Logger {
	if id, ok := c.Locals(requestIDKey).(string); ok && id != "" {
		return s.logger.WithField("request_id", id)
	}
	return s.logger
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	l := s.requestLogger(c).WithFields(logger.Fields{
		"method":   c.Method(),
		"path":     c.Path(),
		"status":   c.Response().StatusCode(),
		"duration": time.Since(start).String(),
	})
	if err != nil {
		l.WithError(err).Warn("Request failed")
	} else {
		l.Debug("Request completed")
	}
	return err
}

func (s *Server) requireAPIKey(c *fiber.Ctx) error {
	key := c.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIKey)) != 1 {
		return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid API key")
	}
	return c.Next()
}
