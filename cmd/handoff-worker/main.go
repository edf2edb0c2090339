// README: Worker entry point; consumes request status notifications from asynq and pushes them through FCM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"handoff/internal/config"
	"handoff/internal/infra"
	"handoff/internal/logger"
	"handoff/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logg := logger.New(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer func() { _ = logg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		logg.Fatal("firebase init failed", zap.Error(err))
	}
	push, err := infra.NewPushSender(ctx, app)
	if err != nil {
		logg.Fatal("fcm init failed", zap.Error(err))
	}

	srv := asynq.NewServer(notify.RedisOpt(cfg.Redis), notify.ServerConfig(cfg.Queue))
	mux := asynq.NewServeMux()
	notify.NewConsumer(push, logg).Register(mux)

	if err := srv.Start(mux); err != nil {
		logg.Fatal("worker start failed", zap.Error(err))
	}
	logg.Info("notification worker started", zap.String("queue", notify.DefaultQueue))

	<-ctx.Done()
	srv.Shutdown()
	logg.Info("notification worker stopped")
}
