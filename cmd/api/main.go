// main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/api"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/api/handlers"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/audit"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/cache"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/config"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/cron"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/db"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/email"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/identity"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/logger"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/metrics"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/repository"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/seed"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/service"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/socket"
)

func main() {
	// ============================================
	// Load environment variables
	// ============================================
	envErr := godotenv.Load()

	// ============================================
	// Load configuration and logger
	// ============================================
	cfg := config.Load()

	zlog, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: "ora-meeting",
	})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if envErr != nil {
		zlog.Info("no .env file found, using environment variables")
	}

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited with error", zap.Error(err))
	}
	zlog.Info("server exited")
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ============================================
	// Run Database Migrations FIRST
	// ============================================
	if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, zlog); err != nil {
		return err
	}

	// ============================================
	// Initialize PostgreSQL
	// ============================================
	pg, err := db.NewPostgresDB(ctx, cfg.DatabaseURL, zlog)
	if err != nil {
		return err
	}
	defer pg.Close()

	repos := repository.NewRepositories(pg.Pool)

	// ============================================
	// Metrics
	// ============================================
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(cfg.MetricsPrefix, reg)

	// ============================================
	// Initialize Redis (optional)
	// ============================================
	var (
		snapshots service.SnapshotCache
		outbox    audit.Outbox = audit.NewMemoryOutbox()
		checks                 = map[string]handlers.Pinger{"postgres": pg}
	)
	if cfg.RedisURL != "" {
		redisDB, err := db.NewRedisDB(ctx, cfg.RedisURL, zlog)
		if err != nil {
			zlog.Warn("failed to connect to Redis, continuing without cache", zap.Error(err))
		} else {
			defer redisDB.Close()
			snapshots = cache.NewSnapshotCache(redisDB.Client, cfg.SnapshotTTL)
			outbox = audit.NewRedisOutbox(redisDB.Client)
			checks["redis"] = redisDB
		}
	}

	// ============================================
	// Initialize Email Alerts (optional)
	// ============================================
	emailSvc := email.NewService(&email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		UseTLS:   cfg.SMTPUseTLS,
	}, zlog)
	var emailQueue *email.Queue
	if cfg.SMTPHost != "" && len(cfg.AlertEmails) > 0 {
		emailQueue = email.NewQueue(emailSvc, 2)
		defer emailQueue.Stop()
		zlog.Info("alert emails enabled", zap.Strings("recipients", cfg.AlertEmails))
	} else {
		zlog.Info("alert emails disabled (SMTP_HOST or ALERT_EMAILS not set)")
	}
	alerter := email.NewAlerter(emailQueue, cfg.AlertEmails, zlog)

	// ============================================
	// Initialize WebSocket Hub
	// ============================================
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := socket.NewHub(zlog, m)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()
	broadcaster := socket.NewBroadcaster(hub, zlog)

	// ============================================
	// Initialize Services
	// ============================================
	chain := audit.NewChain(repos.AuditRepo, cfg.AuditAppendAttempts, zlog)
	services := service.NewServices(&service.ServiceDeps{
		Config:      cfg,
		Repos:       repos,
		Chain:       chain,
		Outbox:      outbox,
		Cache:       snapshots,
		Broadcaster: broadcaster,
		Alerter:     alerter,
		Metrics:     m,
		Logger:      zlog,
	})
	defer services.Close()

	// Records left pending by a previous run are written before serving
	if n, err := services.Meeting.FlushPendingAudits(ctx); err != nil {
		zlog.Warn("pending audits could not be written at startup", zap.Error(err))
	} else if n > 0 {
		zlog.Info("pending audits written at startup", zap.Int("scopes", n))
	}

	verifier := identity.NewVerifier(cfg.JWTSecret)

	// ============================================
	// Seed Data (for development)
	// ============================================
	if !cfg.IsProduction() {
		if err := seed.SeedData(ctx, repos, services.Meeting, identity.NewIssuer(cfg.JWTSecret), zlog); err != nil {
			zlog.Warn("seeding development data failed", zap.Error(err))
		}
	}

	// ============================================
	// Initialize Cron Scheduler
	// ============================================
	scheduler := cron.NewScheduler(services.Meeting, cron.Config{
		AuditReconcileSpec: cfg.AuditReconcileSpec,
		ChainVerifySpec:    cfg.ChainVerifySpec,
	}, zlog)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	// ============================================
	// Create Gin Router
	// ============================================
	wsHandler := socket.NewHandler(hubCtx, hub, verifier, services.Meeting, cfg.CORSOrigins, zlog)
	h := handlers.NewHandlers(services, checks, zlog)
	h.Health.CountConnections(hub.GetConnectedClientsCount)
	router := api.NewRouter(api.RouterDeps{
		Handlers:    h,
		WebSocket:   wsHandler.HandleWebSocket,
		Verifier:    verifier,
		Metrics:     m,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      zlog,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zlog.Info("server starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		zlog.Info("shutting down server")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}

	// Close WebSocket clients before the services they call into
	stopHub()
	<-hubDone

	if n, err := services.Meeting.FlushPendingAudits(shutdownCtx); err != nil {
		zlog.Warn("pending audits left for next start", zap.Error(err))
	} else if n > 0 {
		zlog.Info("pending audits written on shutdown", zap.Int("flushed", n))
	}

	return nil
}
