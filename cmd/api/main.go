package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medpraxis/admin-api/internal/config"
	"github.com/medpraxis/admin-api/internal/email"
	accountHandler "github.com/medpraxis/admin-api/internal/handler/account"
	authHandler "github.com/medpraxis/admin-api/internal/handler/auth"
	dataHandler "github.com/medpraxis/admin-api/internal/handler/data"
	doctorHandler "github.com/medpraxis/admin-api/internal/handler/doctor"
	healthHandler "github.com/medpraxis/admin-api/internal/handler/health"
	statsHandler "github.com/medpraxis/admin-api/internal/handler/stats"
	"github.com/medpraxis/admin-api/internal/middleware"
	"github.com/medpraxis/admin-api/internal/repository/postgres"
	"github.com/medpraxis/admin-api/internal/router"
	directoryService "github.com/medpraxis/admin-api/internal/service/directory"
	exportService "github.com/medpraxis/admin-api/internal/service/export"
	ownerService "github.com/medpraxis/admin-api/internal/service/owner"
	"github.com/medpraxis/admin-api/pkg/auth"
	"github.com/medpraxis/admin-api/pkg/logger"
	"github.com/medpraxis/admin-api/pkg/metrics"
	"github.com/medpraxis/admin-api/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	accountRepo := postgres.NewAccountRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)
	snapshotRepo := postgres.NewSnapshotRepository(base)

	vault := security.NewVault()
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)

	var emailSvc email.Servicer = email.NoopService{}
	if cfg.SMTP.Host != "" && cfg.SMTP.From != "" {
		emailSvc = email.NewService(cfg.SMTP, appLogger)
	}

	m := metrics.NewMetrics("medpraxis_api")
	directorySvc := directoryService.NewService(accountRepo, outboxRepo, vault, appLogger, m)
	ownerSvc := ownerService.NewService(cfg.Owner.CredentialFile, vault, jwtSvc, appLogger)
	exportSvc := exportService.NewService(snapshotRepo, cfg.Export.Directory, cfg.Export.BackupDirectory, appLogger)

	if err := ownerSvc.Bootstrap(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize owner credential")
	}

	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)

	r := router.NewRouter(
		authMiddleware,
		authHandler.NewHandler(ownerSvc),
		healthHandler.NewHandler(db),
		doctorHandler.NewHandler(directorySvc, emailSvc, appLogger),
		accountHandler.NewHandler(directorySvc),
		dataHandler.NewHandler(exportSvc),
		statsHandler.NewHandler(directorySvc),
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimitRPS:     cfg.RateLimit.RequestsPerSecond,
			RateLimitBurst:   cfg.RateLimit.Burst,
			CORSConfig:       middleware.DefaultCORSConfig(),
			MetricsPrefix:    "medpraxis_api",
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
