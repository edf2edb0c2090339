// README: Entry point; loads config, wires trip and request services, and serves the HTTP API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"handoff/internal/config"
	httptransport "handoff/internal/http"
	"handoff/internal/infra"
	"handoff/internal/logger"
	"handoff/internal/modules/request"
	"handoff/internal/modules/trip"
	"handoff/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logg := logger.New(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer func() { _ = logg.Sync() }()
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Lifecycle.Location()
	if err != nil {
		logg.Fatal("invalid timezone", zap.Error(err))
	}

	dbPool, err := infra.NewDB(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
	if err != nil {
		logg.Fatal("database init failed", zap.Error(err))
	}
	defer dbPool.Close()

	if cfg.Database.MigrateOnStart {
		applied, err := infra.Migrate(ctx, dbPool)
		if err != nil {
			logg.Fatal("migrate failed", zap.Error(err))
		}
		logg.Info("migrations applied", zap.Int("count", applied))
	}

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		// OTP verify rate limiting fails open without redis.
		logg.Warn("redis unavailable, verify rate limit disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		logg.Fatal("firebase init failed", zap.Error(err))
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		logg.Fatal("firebase auth init failed", zap.Error(err))
	}

	notifier := notify.NewClient(cfg.Queue, cfg.Redis)
	defer notifier.Close()

	tripSvc := trip.NewService(dbPool, logg)
	requestSvc := request.NewService(dbPool, request.Config{
		PickupOTPTTL:   cfg.OTP.PickupTTL,
		DeliveryOTPTTL: cfg.OTP.DeliveryTTL,
		CancelWindow:   cfg.Lifecycle.CancelWindow,
		RequiredPhotos: cfg.Lifecycle.RequiredPhotos,
	}, notifier, logg)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Trips:           tripSvc,
		Requests:        requestSvc,
		Verifier:        verifier,
		Redis:           redisClient,
		VerifyRateLimit: cfg.OTP.VerifyRateLimit,
		Location:        loc,
		Log:             logg,
	})

	server := httptransport.NewServer(cfg.Server.Addr, router, logg)
	if err := server.Run(ctx); err != nil {
		logg.Fatal("http server failed", zap.Error(err))
	}
}
