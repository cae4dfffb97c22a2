package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Makar0n1/art-automation/config"
	"github.com/Makar0n1/art-automation/internal/bus"
	"github.com/Makar0n1/art-automation/internal/queue"
	"github.com/Makar0n1/art-automation/internal/queue/streams"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/internal/telemetry"
	"github.com/Makar0n1/art-automation/internal/vault"
	"github.com/Makar0n1/art-automation/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.LoadConfig(*cfgPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := sql.Open("postgres", cfg.Databases.Postgres.DSN())
	if err != nil {
		log.Fatalf("worker: open postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("worker: ping postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Databases.Redis.Addr(),
		Password: cfg.Databases.Redis.Password,
		DB:       cfg.Databases.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("worker: ping redis: %v", err)
	}

	registry, err := queue.NewRegistry()
	if err != nil {
		log.Fatalf("worker: build schema registry: %v", err)
	}
	if err := streams.EnsureGroup(ctx, rdb, queue.JobStream, queue.ConsumerGroup); err != nil {
		log.Fatalf("worker: ensure consumer group: %v", err)
	}

	consumerName := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	consumer := streams.NewConsumer(rdb, registry, queue.ConsumerGroup, consumerName)
	publisher := streams.NewPublisher(rdb, registry)

	v, err := vault.New(cfg.Vault.RawKeyHex, cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatalf("worker: build vault: %v", err)
	}
	st := store.New(db)
	eventBus := bus.New(rdb)
	metrics := telemetry.New(prometheus.NewRegistry())

	logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)
	processor := worker.NewProcessor(logger, st, v, eventBus, consumer, publisher, cfg.Queue, cfg.Providers, metrics)

	logger.Printf("starting as consumer %s", consumerName)
	if err := processor.Run(ctx); err != nil {
		log.Fatalf("worker: processor exited: %v", err)
	}
}
