package app

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/web-chatbot/backend/internal/api/handlers"
	"github.com/web-chatbot/backend/internal/metrics"
	"github.com/web-chatbot/backend/internal/middleware/security"
	"github.com/web-chatbot/backend/internal/middleware/validation"
	"github.com/web-chatbot/backend/internal/report"
	"github.com/web-chatbot/backend/pkg/logger"
)

func (a *App) newServer() *fiber.App {
	cfg := a.Config

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		// experiment keys contain a space
		UnescapePath: true,
	})

	allowOrigins := "*"
	if len(cfg.Security.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Security.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		IsDevelopment:  cfg.Security.IsDevelopment,
	}))

	sessionHandler := handlers.NewSessionHandler(a.Sessions, a.Extractor, a.Processor, a.Engine, a.Stores.Experiments)
	queryHandler := handlers.NewQueryHandler(a.Sessions, a.Engine)
	experimentHandler := handlers.NewExperimentHandler(a.Stores.Experiments, a.Stores.Ledger, a.Registry, report.DefaultPageSize)
	wsHandler := handlers.NewWebSocketHandler(a.Sessions, a.Engine, time.Duration(cfg.LLM.TimeoutSec)*time.Second)

	limited := a.limiter.Middleware()

	api := app.Group("/api/v1")
	api.Use(validation.Middleware(validation.Config{
		MaxQuestionLength: cfg.Validation.MaxQuestionLength,
		Logger:            logger.Named("validation"),
	}))

	api.Post("/sessions", sessionHandler.CreateSession)
	api.Get("/sessions/:id", sessionHandler.GetSession)
	api.Delete("/sessions/:id", sessionHandler.DeleteSession)
	api.Get("/sessions/:id/text", sessionHandler.GetText)
	api.Post("/sessions/:id/summary", limited, sessionHandler.Summarize)
	api.Post("/sessions/:id/embeddings", sessionHandler.CreateEmbeddings)
	api.Post("/sessions/:id/experiments", sessionHandler.CreateExperiment)
	api.Post("/sessions/:id/ask", limited, queryHandler.Ask)
	api.Get("/sessions/:id/history", sessionHandler.GetHistory)
	api.Delete("/sessions/:id/history", sessionHandler.ClearHistory)

	api.Get("/models", experimentHandler.ListModels)
	api.Get("/experiments", experimentHandler.ListExperiments)
	api.Get("/experiments/latest", experimentHandler.Latest)
	api.Get("/experiments/:key/rows", experimentHandler.Rows)
	api.Get("/experiments/:key/rows/:index", experimentHandler.RowDetail)
	api.Get("/benchmarks", experimentHandler.Benchmarks)
	api.Get("/ledger", experimentHandler.Ledger)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ready",
			"sessions": a.Sessions.Len(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:id", websocket.New(wsHandler.HandleConnection))

	return app
}
