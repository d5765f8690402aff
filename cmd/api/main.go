package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dmscore/internal/claim"
	"dmscore/internal/config"
	"dmscore/internal/database"
	"dmscore/internal/database/migration"
	handlers "dmscore/internal/http/handler"
	"dmscore/internal/http/middleware"
	"dmscore/internal/identity"
	"dmscore/internal/otel"
	"dmscore/internal/repository/postgres"
	"dmscore/internal/service"
	"dmscore/internal/storage"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	loc := time.UTC

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize tracing (no-op when OTEL_SDK_DISABLED=true)
	shutdownTracing, err := otel.Init(ctx, loc)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// Initialize PostgreSQL connection (with pooling via database/sql)
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	// Ensure schema exists before serving traffic
	if err := migration.EnsureMigrated(ctx, db, loc, cfg.Database.Host); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Initialize reusable S3-compatible object storage client (MinIO-supported)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	// Credential directory for login and e-signature checks
	dir, err := identity.LoadFromEnv()
	if err != nil {
		log.Fatalf("failed to load identity directory: %v", err)
	}

	// Repositories
	docRepo := postgres.NewDocumentPostgres(db)
	verRepo := postgres.NewVersionPostgres(db)
	auditRepo := postgres.NewAuditLogPostgres(db)

	// Exclusive-claim managers: edit locks keyed by version, sessions by user
	lockTTL := time.Duration(cfg.Lock.TTLSec) * time.Second
	sessionTTL := time.Duration(cfg.Session.TTLSec) * time.Second
	lockMgr := claim.NewManager[string](postgres.NewEditLockStore(db), lockTTL,
		claim.WithEntryFunc(service.LockEntryFunc()))
	sessionMgr := claim.NewManager[string](postgres.NewSessionStore(db), sessionTTL,
		claim.WithEntryFunc(service.SessionEntryFunc()))

	// Services
	lockSvc := service.NewLockService(lockMgr, verRepo)
	docSvc := service.NewDocumentService(docRepo, verRepo)
	wfSvc := service.NewWorkflowService(verRepo, docRepo, lockSvc, objStore, dir)
	sessionSvc := service.NewSessionService(sessionMgr, dir, auditRepo)
	auditSvc := service.NewAuditService(auditRepo)

	// Metrics registry, shared by middleware and sweepers
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Background sweepers reclaim abandoned locks and sessions
	sweepInterval := time.Duration(cfg.Lock.SweepIntervalSec) * time.Second
	go service.NewSweeper("edit_lock", lockMgr, sweepInterval, loc, reg).Run(ctx)
	go service.NewSweeper("session", sessionMgr, sweepInterval, loc, reg).Run(ctx)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	promMW, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatalf("failed to initialize metrics: %v", err)
	}
	app.Use(promMW.Handler())
	app.Use(middleware.Actor())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Register HTTP routes with injected services
	handlers.RegisterRoutes(app, db, handlers.Services{
		Documents: docSvc,
		Workflow:  wfSvc,
		Locks:     lockSvc,
		Sessions:  sessionSvc,
		Audits:    auditSvc,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.ShutdownWithContext(shutdownCtx)
	}()

	addr := ":" + cfg.Port

	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
