package bootstrap

import (
	"context"
	"strings"
	"time"

	"crm_server/adapter/in/http"
	"crm_server/config"
	"crm_server/infra/middleware"
	"crm_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const (
	webhookRateLimit  = 600
	webhookRatePeriod = time.Minute
	apiRateLimit      = 300
	apiRatePeriod     = time.Minute
)

// NewAPI connects the dependencies and returns the configured app. Background
// work started here stops when ctx is cancelled.
func NewAPI(ctx context.Context, cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	checks := map[string]http.HealthChecker{
		"postgres": http.PingFunc(deps.SQLDB.PingContext),
		"redis":    nil,
		"mongodb":  nil,
	}
	if deps.Redis != nil {
		checks["redis"] = http.PingFunc(func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() })
	}
	if deps.MongoDB != nil {
		checks["mongodb"] = http.PingFunc(func(ctx context.Context) error { return deps.MongoDB.Ping(ctx, nil) })
	}

	app := NewRouter(ctx, cfg, deps, checks)
	logger.Info("API server initialized successfully")
	return app, cleanup, nil
}

// NewRouter assembles middleware and routes over already wired services.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Dependencies, checks map[string]http.HealthChecker) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,
		ReadBufferSize:        16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		// Webhook payloads carry metadata only.
		BodyLimit:          1 * 1024 * 1024,
		ServerHeader:       "",
		DisableDefaultDate: true,
		ReadTimeout:        30 * time.Second,
		// A manual sync answers only after both categories are reconciled.
		WriteTimeout: 5 * time.Minute,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(cors.New(corsConfig(cfg)))

	http.NewHealthHandler(checks).Register(app)

	if cfg.IsDevelopment() {
		RegisterDevRoutes(app, cfg)
	}

	// Webhooks authenticate with the shared secret, not a user token.
	webhookLimiter := middleware.NewRateLimiter(webhookRateLimit, webhookRatePeriod)
	go webhookLimiter.Run(ctx)
	http.NewWebhookHandler(deps.WebhookService, webhookLimiter.Handler()).
		WithTimeout(cfg.WebhookTimeout).
		Register(app)

	apiLimiter := middleware.NewRateLimiter(apiRateLimit, apiRatePeriod)
	go apiLimiter.Run(ctx)

	api := app.Group("/api/v1")
	api.Use(apiLimiter.Handler())
	api.Use(middleware.JWTAuth(cfg.JWTSecret))

	http.NewSyncHandler(deps.SyncService).Register(api)
	http.NewCompanyHandler(deps.CompanyService).Register(api)
	http.NewContactHandler(deps.ContactService).Register(api)
	http.NewCommunicationHandler(deps.CommunicationService).Register(api)

	return app
}

// corsConfig never pairs credentials with a wildcard origin.
func corsConfig(cfg *config.Config) cors.Config {
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	return cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}
}
