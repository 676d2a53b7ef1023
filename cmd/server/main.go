package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pixelshift/internal/app"
	"github.com/suPer8Hu/pixelshift/internal/config"
	"github.com/suPer8Hu/pixelshift/internal/db"
	"github.com/suPer8Hu/pixelshift/internal/httpapi"
	"github.com/suPer8Hu/pixelshift/internal/httpapi/handlers"
	"github.com/suPer8Hu/pixelshift/internal/logging"
	"github.com/suPer8Hu/pixelshift/internal/store/rabbitmq"
	"github.com/suPer8Hu/pixelshift/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	logging.Setup("server", cfg.Development())

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err := db.Migrate(gdb, app.Models()...); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	gw, err := app.Gateway(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("payment gateway")
	}
	if cfg.BypassStripe {
		log.Warn().Msg("BYPASS_STRIPE is on: checkouts are fulfilled without payment")
	}

	idp, local, err := app.Identity(cfg, gdb)
	if err != nil {
		log.Fatal().Err(err).Msg("identity provider")
	}

	deps := handlers.Deps{Gateway: gw, Identity: idp, Local: local}

	// redis and rabbitmq are optional: without them provisioning runs
	// unlocked and uncached, and nothing is queued
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, running without lock and cache")
		_ = rds.Close()
	} else {
		defer rds.Close()
		deps.Cache = rds
		deps.Locker = rds
	}
	cancel()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.RabbitReconcileQueue)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable, transform and reconcile messages will not be published")
	} else {
		defer pub.Close()
		deps.Publisher = pub
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(gdb, cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.AppEnv).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("server shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
