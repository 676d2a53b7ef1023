package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pixelshift/internal/app"
	"github.com/suPer8Hu/pixelshift/internal/config"
	"github.com/suPer8Hu/pixelshift/internal/db"
	"github.com/suPer8Hu/pixelshift/internal/fulfillment"
	"github.com/suPer8Hu/pixelshift/internal/logging"
	"github.com/suPer8Hu/pixelshift/internal/payment"
	"github.com/suPer8Hu/pixelshift/internal/store/rabbitmq"
	"github.com/suPer8Hu/pixelshift/internal/store/redisstore"
)

// The worker drains the reconcile queue: provisioning attempts that created
// an identity but failed before the chat was committed.
func main() {
	cfg := config.Load()
	logging.Setup("worker", cfg.Development())

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)

	gw, err := app.Gateway(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("payment gateway")
	}
	idp, _, err := app.Identity(cfg, gdb)
	if err != nil {
		log.Fatal().Err(err).Msg("identity provider")
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.RabbitReconcileQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit publisher")
	}
	defer pub.Close()

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	deps := fulfillment.Deps{
		DB:             gdb,
		Identity:       idp,
		Publisher:      pub,
		TransformQueue: cfg.RabbitQueue,
		ReconcileQueue: cfg.RabbitReconcileQueue,
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, reconciling without lock")
		deps.Metadata = payment.NewMetadataService(gw, nil)
	} else {
		deps.Locker = rds
		deps.Metadata = payment.NewMetadataService(gw, rds)
	}
	cancel()

	rec := fulfillment.NewReconciler(fulfillment.NewProvisioner(deps), pub, cfg.RabbitReconcileQueue, cfg.ReconcileMaxAttempts)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitReconcileQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitReconcileQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("queue", cfg.RabbitReconcileQueue).Int("concurrency", concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				if ctx.Err() != nil {
					// shutting down: hand buffered deliveries back untouched
					_ = d.Nack(false, true)
					continue
				}
				start := time.Now()
				if err := rec.Handle(ctx, d.Body); err != nil {
					if !errors.Is(err, fulfillment.ErrGiveUp) {
						log.Warn().Err(err).Int("worker", workerID).Msg("reconcile message requeued")
						_ = d.Nack(false, true)
						continue
					}
					log.Error().Err(err).Int("worker", workerID).Dur("cost", time.Since(start)).Msg("reconcile message dead-lettered")
					_ = d.Nack(false, false)
					continue
				}
				if err := d.Ack(false); err != nil {
					log.Error().Err(err).Int("worker", workerID).Msg("ack failed")
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error().Msg("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}
