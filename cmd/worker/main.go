package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/pharmacy-platform/internal/app"
	"github.com/suPer8Hu/pharmacy-platform/internal/config"
	"github.com/suPer8Hu/pharmacy-platform/internal/db"
	"github.com/suPer8Hu/pharmacy-platform/internal/diagnosis"
	"github.com/suPer8Hu/pharmacy-platform/internal/logger"
	"github.com/suPer8Hu/pharmacy-platform/internal/metrics"
	"github.com/suPer8Hu/pharmacy-platform/internal/store/rabbitmq"
)

// settle is what the worker does with a delivery after running its job.
type settle int

const (
	settleAck settle = iota
	settleRetry
	settleDeadLetter
	settleRequeue
)

// decide picks the outcome for a job run. Only provider exhaustion is worth
// retrying; the rest fails the same way again.
func decide(ctx context.Context, err error, attempt, maxRetries int) settle {
	switch {
	case err == nil:
		return settleAck
	case ctx.Err() != nil:
		return settleRequeue
	case errors.Is(err, diagnosis.ErrAllProvidersExhausted) && attempt < maxRetries:
		return settleRetry
	default:
		return settleDeadLetter
	}
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogPretty).With().Str("service", "worker").Logger()

	if cfg.RabbitURL == "" {
		log.Fatal().Msg("RABBIT_URL is required")
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	if cfg.DBAutoMigrate {
		if err := db.Migrate(gdb); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
	}

	svc := app.NewDiagnosisService(cfg, gdb, metrics.New(prometheus.DefaultRegisterer), log)

	retry, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit publisher")
	}
	defer retry.Close()

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

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With().Int("worker", workerID).Logger()
			for d := range jobs {
				handleDelivery(ctx, svc, retry, cfg, d, wlog)
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

func handleDelivery(ctx context.Context, svc *diagnosis.Service, retry *rabbitmq.Publisher, cfg config.Config, d amqp.Delivery, log zerolog.Logger) {
	m, err := rabbitmq.DecodeJob(d.Body)
	if err != nil || m.JobID == "" {
		log.Error().Err(err).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}

	attempt := rabbitmq.Attempt(d.Headers)
	start := time.Now()
	runErr := svc.RunJob(ctx, m.JobID)
	jlog := log.With().Str("job_id", m.JobID).Int("attempt", attempt).Dur("took", time.Since(start)).Logger()

	switch decide(ctx, runErr, attempt, cfg.JobMaxRetries) {
	case settleAck:
		jlog.Info().Msg("job succeeded")
		if err := d.Ack(false); err != nil {
			jlog.Error().Err(err).Msg("ack failed")
		}

	case settleRetry:
		delay := cfg.JobRetryDelay * time.Duration(attempt+1)
		if err := retry.PublishRetry(ctx, m.JobID, attempt+1, delay); err != nil {
			jlog.Error().Err(err).Msg("retry publish failed, dead-lettering")
			_ = d.Nack(false, false)
			return
		}
		jlog.Warn().Err(runErr).Dur("delay", delay).Msg("job scheduled for retry")
		_ = d.Ack(false)

	case settleRequeue:
		jlog.Warn().Err(runErr).Msg("job interrupted, requeueing")
		_ = d.Nack(false, true)

	default:
		jlog.Error().Err(runErr).Msg("job failed")
		_ = d.Nack(false, false)
	}
}
