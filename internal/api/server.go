// Package api assembles the HTTP and websocket surface.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/api/handlers"
	"github.com/paperlens/backend/internal/chat"
	"github.com/paperlens/backend/internal/metrics"
	"github.com/paperlens/backend/internal/middleware/ratelimit"
	"github.com/paperlens/backend/internal/middleware/security"
	"github.com/paperlens/backend/internal/middleware/validation"
	"github.com/paperlens/backend/internal/session"
	"github.com/paperlens/backend/pkg/config"
)

type Deps struct {
	Config   *config.Config
	Sessions *session.Manager
	Tracker  handlers.Tracker
	Streamer chat.Streamer
	Logger   *zap.Logger
	// Ready reports whether the storage backend is reachable.
	Ready func(ctx context.Context) error
	// Quiet disables the request log, for tests.
	Quiet bool
}

type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

func NewServer(d Deps) *Server {
	cfg := d.Config
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		Logger:               d.Logger,
	})

	origins := cfg.Server.AllowOrigins
	if origins == "" {
		origins = "*"
	}

	app.Use(recover.New())
	if !d.Quiet {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: strings.Split(origins, ","),
		IsDevelopment:  origins == "*",
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if d.Ready != nil {
			if err := d.Ready(c.Context()); err != nil {
				d.Logger.Warn("Readiness check failed", zap.Error(err))
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "unavailable",
				})
			}
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	papers := handlers.NewPaperHandler(d.Sessions)
	hist := handlers.NewHistoryHandler(d.Sessions)
	evals := handlers.NewEvaluationHandler(d.Tracker, d.Sessions.History())
	chatHandler := handlers.NewChatHandler(d.Sessions, d.Streamer, d.Tracker)

	api := app.Group("/api/v1",
		limiter.Middleware(),
		validation.Middleware(validation.Config{
			MaxFileSize: cfg.Upload.MaxFileSize(),
			Logger:      d.Logger,
		}),
	)

	api.Post("/papers", papers.Upload)
	api.Post("/papers/validate", papers.Validate)

	api.Get("/session", papers.GetSession)
	api.Delete("/session", papers.CloseSession)
	api.Get("/session/stats", papers.Stats)
	api.Get("/session/graph", papers.Graph)
	api.Post("/session/tabs/:tab", papers.LoadTab)
	api.Post("/session/summary", papers.RegenerateSummary)
	api.Post("/session/figures", papers.ExplainFigure)

	api.Get("/history", hist.List)
	api.Get("/history/:fingerprint", hist.Get)
	api.Put("/history/:fingerprint/tags", hist.UpdateTags)
	api.Get("/persona", hist.GetPersona)
	api.Put("/persona", hist.SetPersona)
	api.Post("/synthesis", hist.Synthesize)

	api.Get("/evaluations", evals.List)
	api.Get("/evaluations/report", evals.Report)
	api.Get("/evaluations/baseline", evals.Baseline)
	api.Get("/analytics", evals.Analytics)

	app.Use("/ws", chatHandler.Upgrade)
	app.Get("/ws/chat", websocket.New(chatHandler.HandleConnection))

	return &Server{App: app, limiter: limiter}
}

func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.App.ShutdownWithContext(ctx)
}
