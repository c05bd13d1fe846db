package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/abacopay/abaco/internal/charge"
	"github.com/abacopay/abaco/internal/config"
	"github.com/abacopay/abaco/internal/conversion"
	"github.com/abacopay/abaco/internal/keys"
	"github.com/abacopay/abaco/internal/ledger"
	"github.com/abacopay/abaco/internal/middleware"
	"github.com/abacopay/abaco/internal/notification"
	"github.com/abacopay/abaco/internal/owner"
	"github.com/abacopay/abaco/internal/rates"
	"github.com/abacopay/abaco/internal/webhook"
)

const webhookPath = "/api/v1/webhooks/payments"

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	// Store overrides the ledger backend built from DB. The entrypoint sets
	// it so HTTP handlers and the charge sweeper share one instance.
	Store ledger.Store

	// Rates overrides the provider built from config, mainly for tests and
	// local development without a live quote source.
	Rates rates.Provider
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		// Webhook deliveries carry their own durable fence in the store, so
		// the cached-response layer must not swallow replays before it runs.
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger, webhookPath))
	}

	RegisterHealthRoutes(app, d)

	store := d.Store
	if store == nil {
		if d.DB != nil {
			store = ledger.NewPostgres(d.DB)
		} else {
			store = ledger.NewInMemory()
		}
	}

	var ownerRepo owner.Repository
	if d.DB != nil {
		ownerRepo = owner.NewPostgresRepository(d.DB)
	} else {
		ownerRepo = owner.NewMemoryRepository()
	}

	provider := d.Rates
	if provider == nil {
		if d.Cfg.RateAPIURL != "" {
			provider = rates.NewHTTPProvider(d.Cfg.RateAPIURL, d.Cfg.RateTimeout)
		} else if d.Cfg.IsDev() {
			provider = rates.DevStatic()
		} else {
			return fmt.Errorf("RATE_API_URL is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	ownerSvc := owner.NewService(ownerRepo, keys.NewService())
	chargeSvc := charge.NewService(store, d.Cfg.ChargeTTL)
	webhookSvc := webhook.NewService(store, notifier, d.Logger)
	engine := conversion.NewEngine(store, provider, d.Cfg.ConversionSpread, d.Cfg.RateTimeout, notifier)

	ownerHandler := owner.NewHandler(ownerSvc)
	chargeHandler := charge.NewHandler(chargeSvc)
	conversionHandler := conversion.NewHandler(engine)
	webhookHandler := webhook.NewHandler(webhookSvc, []byte(d.Cfg.WebhookSecret))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	api.Post("/owners", ownerHandler.Onboard)
	api.Post("/webhooks/payments", webhookHandler.Ingest)
	api.Get("/charges/:externalId", chargeHandler.Get)

	// Protected routes
	protected := api.Group("", middleware.APIKeyAuth(ownerSvc))
	protected.Post("/charges", chargeHandler.Create)
	protected.Get("/charges", chargeHandler.List)
	protected.Post("/conversions", middleware.ConversionRateLimit(d.Cache, d.Cfg.ConversionsPerMin), conversionHandler.Convert)
	RegisterLedgerRoutes(protected, store)

	return nil
}
