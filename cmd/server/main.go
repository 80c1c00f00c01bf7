package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/pharmacy-platform/internal/app"
	"github.com/suPer8Hu/pharmacy-platform/internal/config"
	"github.com/suPer8Hu/pharmacy-platform/internal/db"
	"github.com/suPer8Hu/pharmacy-platform/internal/httpapi"
	"github.com/suPer8Hu/pharmacy-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/pharmacy-platform/internal/logger"
	"github.com/suPer8Hu/pharmacy-platform/internal/metrics"
	"github.com/suPer8Hu/pharmacy-platform/internal/store/rabbitmq"
	"github.com/suPer8Hu/pharmacy-platform/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database connection failed")
	}
	if cfg.DBAutoMigrate {
		if err := db.Migrate(gdb); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	svc := app.NewDiagnosisService(cfg, gdb, m, log)

	var jobs handlers.JobPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, log.With().Str("component", "publisher").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq publisher failed")
		}
		defer pub.Close()
		jobs = pub
	} else {
		log.Warn().Msg("RABBIT_URL not set, async diagnosis disabled")
	}

	opts := httpapi.Options{
		JWTSecret:          cfg.JWTSecret,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Gatherer:           prometheus.DefaultGatherer,
		Log:                log,
	}
	if cfg.RedisAddr != "" {
		rds := redisstore.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rds.Close()
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rds.Ping(pctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, rate limiting fails open until it recovers")
		}
		cancel()
		opts.Limiter = rds
	} else {
		log.Warn().Msg("REDIS_ADDR not set, rate limiting disabled")
	}

	h := handlers.NewHandler(gdb, svc, jobs, log)
	router := httpapi.NewRouter(h, opts)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	log.Info().
		Str("port", cfg.Port).
		Str("db_driver", cfg.DBDriver).
		Int("credential_slots", len(cfg.OpenRouterAPIKeys)).
		Msg("server listening")
	waitForShutdown(server, log)
}


func waitForShutdown(server *http.Server, log zerolog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
