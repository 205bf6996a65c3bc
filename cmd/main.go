/**
 * @description
 * This is the main entry point for the payments-service. It initializes all
 * components - configuration, the PostgreSQL pool, the RabbitMQ producer,
 * the optional Redis replay guard, the reconciliation engine, the cron
 * scheduler and the HTTP server - wires them together and runs until
 * terminated.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for the replay guard.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/rabbitmq: The notification/audit event producer.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lipabooks/payments-service/internal/api"
	"github.com/lipabooks/payments-service/internal/app"
	"github.com/lipabooks/payments-service/internal/config"
	"github.com/lipabooks/payments-service/internal/store"
	"github.com/lipabooks/payments-service/pkg/rabbitmq"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting payments-service\" port=%s", cfg.ServerPort)

	// Establish the PostgreSQL connection pool.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// The notification/audit sink. A broker outage must not block payment
	// reconciliation, so a missing broker degrades to the no-op publisher.
	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq unavailable; notifications disabled\" err=%v", err)
		publisher = &rabbitmq.NoopPublisher{}
	} else {
		defer producer.Close()
		publisher = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	repository := store.NewPostgresRepository(dbpool)
	retryScheduler := app.NewStoreRetryScheduler(repository, cfg.RetryBackoffBase())

	engine := app.NewService(repository, publisher, retryScheduler, app.EngineConfig{
		FeeRate:        cfg.FeeRate(),
		GracePeriod:    cfg.GracePeriod(),
		EventsExchange: cfg.EventsExchange,
	})

	// Optional Redis replay guard. Reconciliation is correct without it; it
	// only short-circuits duplicate deliveries before the database lookup.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; replay guard disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; replay guard disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				engine.SetReplayGuard(app.NewRedisReplayGuard(redisClient, cfg.RedisReplayGuardPrefix))
				log.Println("level=info component=bootstrap msg=\"redis replay guard enabled\"")
			}
			cancelPing()
		}
	}

	// Background jobs: retry queue drain and subscription expiry sweep.
	jobLogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, engine, publisher, jobLogger, app.JobsConfig{
		MaxAttempts:    cfg.RetryMaxAttempts,
		BatchSize:      cfg.RetryBatchSize,
		BackoffBase:    cfg.RetryBackoffBase(),
		EventsExchange: cfg.EventsExchange,
	})
	scheduler := app.NewScheduler(jobs, jobLogger, app.SchedulerConfig{
		RetryQueueSchedule:         cfg.RetryQueueSchedule,
		SubscriptionExpirySchedule: cfg.SubscriptionExpirySchedule,
	})
	scheduler.Start()
	defer scheduler.Stop()

	authenticator := app.NewSourceAuthenticator(cfg.AllowedSources())
	handlers := api.NewHandler(engine, authenticator)
	router := api.NewRouter(handlers, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
