package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/payfox/payfox/app/controllers"
	"github.com/payfox/payfox/app/repository"
	"github.com/payfox/payfox/internal/pkg/cache"
	"github.com/payfox/payfox/internal/pkg/env"
	"github.com/payfox/payfox/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        apiRateLimit(),
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Stripe calls this endpoint directly; it authenticates via the
	// Stripe-Signature header, not an API key.
	v1.Post("/payments/webhook", controllers.HandleStripeWebhook)

	payments := v1.Group("/payments", middleware.APIKeyAuthMiddleware())
	payments.Get("/config", controllers.HandleGetPaymentConfig)
	payments.Post("/intents", controllers.HandleCreatePaymentIntent)
	payments.Post("/intents/:id/confirm", controllers.HandleConfirmPaymentIntent)
	payments.Get("/intents/:id", controllers.HandleGetPaymentIntent)
	payments.Get("/intents", controllers.HandleListPayments)
	payments.Get("/subscriptions/:id", controllers.HandleGetSubscription)

	user := v1.Group("/user", middleware.APIKeyAuthMiddleware())
	user.Get("/account", controllers.HandleGetUserAccount)
	user.Post("/api-key", controllers.HandleIssueAPIKey)

	admin := v1.Group("/admin", middleware.APIKeyAuthMiddleware(), middleware.RequireAdminAPI)
	admin.Get("/webhook-events/failed", controllers.HandleListFailedWebhookEvents)
	admin.Post("/webhook-events/:id/replay", controllers.HandleReplayWebhookEvent)

	jobsController := controllers.NewAdminJobsController(repository.GetGlobalFactory().GetQueueRepository())
	admin.Get("/jobs", jobsController.HandleListJobs)
	admin.Delete("/jobs/:key", jobsController.HandleDeleteJob)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func apiRateLimit() int {
	if v, err := strconv.Atoi(env.GetEnv("API_RATE_LIMIT", "120")); err == nil && v > 0 {
		return v
	}
	return 120
}

// newLimiterStorage backs the rate limiter with Redis so counters survive
// restarts and are shared between instances. Connection details come from
// the already-initialized cache client; database 1 keeps limiter keys out
// of the job queue keyspace.
func newLimiterStorage() *redis.Storage {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
