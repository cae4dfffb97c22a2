package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Makar0n1/art-automation/config"
	"github.com/Makar0n1/art-automation/internal/bus"
	"github.com/Makar0n1/art-automation/internal/gateway"
	"github.com/Makar0n1/art-automation/internal/queue"
	"github.com/Makar0n1/art-automation/internal/queue/streams"
	srv "github.com/Makar0n1/art-automation/internal/server"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/internal/telemetry"
	"github.com/Makar0n1/art-automation/internal/vault"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.LoadConfig(*cfgPath)
	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.Databases.Postgres.DSN())
	if err != nil {
		log.Fatalf("api: open postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("api: ping postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Databases.Redis.Addr(),
		Password: cfg.Databases.Redis.Password,
		DB:       cfg.Databases.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("api: ping redis: %v", err)
	}

	registry, err := queue.NewRegistry()
	if err != nil {
		log.Fatalf("api: build schema registry: %v", err)
	}
	if err := streams.EnsureGroup(ctx, rdb, queue.JobStream, queue.ConsumerGroup); err != nil {
		log.Fatalf("api: ensure consumer group: %v", err)
	}
	publisher := streams.NewPublisher(rdb, registry)

	v, err := vault.New(cfg.Vault.RawKeyHex, cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatalf("api: build vault: %v", err)
	}

	st := store.New(db)
	eventBus := bus.New(rdb)

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.New(promRegistry)

	gatewayLogger := log.New(os.Stdout, "[GATEWAY] ", log.LstdFlags)
	gw := gateway.New(gatewayLogger, []byte(cfg.Auth.JWTSecret))
	go func() {
		if err := gw.Run(ctx, eventBus); err != nil {
			gatewayLogger.Printf("gateway subscriber stopped: %v", err)
		}
	}()

	e := srv.New(srv.Deps{
		Config:    cfg,
		Store:     st,
		Vault:     v,
		Redis:     rdb,
		Publisher: publisher,
		Registry:  promRegistry,
		Metrics:   metrics,
		Gateway:   gw,
	})

	addr := srv.Addr(cfg.Server)
	log.Printf("api: listening on %s", addr)
	if err := e.Start(addr); err != nil {
		log.Fatalf("api: server exited: %v", err)
	}
}
