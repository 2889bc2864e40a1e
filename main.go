package main

import (
	"fmt"
	"log"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/payfox/payfox/app/controllers"
	"github.com/payfox/payfox/app/repository"
	"github.com/payfox/payfox/internal/pkg/auditexport"
	"github.com/payfox/payfox/internal/pkg/cache"
	"github.com/payfox/payfox/internal/pkg/config"
	"github.com/payfox/payfox/internal/pkg/database"
	"github.com/payfox/payfox/internal/pkg/env"
	"github.com/payfox/payfox/internal/pkg/jobqueue"
	"github.com/payfox/payfox/internal/pkg/notify"
	"github.com/payfox/payfox/internal/pkg/payments"
	"github.com/payfox/payfox/internal/pkg/reconcile"
	"github.com/payfox/payfox/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	manager := jobqueue.GetManager()
	queue := manager.GetQueue()

	gateway := payments.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	notifier := notify.NewQueueNotifier(queue)
	svc := payments.NewService(payments.NewRepository(database.GetDB()), gateway, cfg.AmountLimits(), notifier,
		repository.GetGlobalFactory().GetOrganizationRepository())
	registry := payments.NewRegistry(svc)
	processor := payments.NewProcessor(svc, registry)
	controllers.InitPayments(svc, processor, cfg.StripePublishableKey)

	deliverer := notify.NewDeliverer(database.GetDB())
	queue.RegisterHandler(jobqueue.JobTypeNotification, deliverer.HandleJob)
	queue.RegisterHandler(jobqueue.JobTypeWebhookReplay, reconcile.ReplayJobHandler(processor))

	if cfg.AuditExportEnabled {
		exportCfg, err := auditexport.LoadConfig()
		if err != nil {
			log.Fatalf("Invalid audit export configuration: %v", err)
		}
		exporter, err := auditexport.NewExporter(database.GetDB(), exportCfg)
		if err != nil {
			log.Fatalf("Failed to initialize audit exporter: %v", err)
		}
		queue.RegisterHandler(jobqueue.JobTypeAuditExport, exporter.HandleJob)
		if err := auditexport.NewScheduler(queue).Start(); err != nil {
			log.Fatalf("Failed to schedule audit export: %v", err)
		}
	}

	manager.Start()

	sweeper := reconcile.NewSweeper(svc, queue, reconcile.Options{
		Interval:            cfg.ReconcileInterval,
		ReplayHorizon:       cfg.ReplayHorizon,
		MaxReplayAttempts:   cfg.MaxReplayAttempts,
		PendingIntentMaxAge: cfg.PendingIntentMaxAge,
		BatchSize:           cfg.ReconcileBatchSize,
	})
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start reconciliation sweeper: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName: "payfox",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
