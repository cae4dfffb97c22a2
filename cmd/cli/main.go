// cmd/cli is the single multi-command binary: serve, worker and migrate
// as subcommands of one cobra root, for operators who'd rather ship one
// artifact than three. cmd/api and cmd/worker remain the dedicated
// single-purpose binaries for deployments that want a minimal image per
// role.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Makar0n1/art-automation/config"
	"github.com/Makar0n1/art-automation/internal/bus"
	"github.com/Makar0n1/art-automation/internal/gateway"
	"github.com/Makar0n1/art-automation/internal/queue"
	"github.com/Makar0n1/art-automation/internal/queue/streams"
	srv "github.com/Makar0n1/art-automation/internal/server"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/internal/telemetry"
	"github.com/Makar0n1/art-automation/internal/vault"
	"github.com/Makar0n1/art-automation/internal/worker"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "art-automation"}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	root.AddCommand(serveCmd(&cfgPath), workerCmd(&cfgPath), migrateCmd(&cfgPath))
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			ctx := context.Background()

			db, rdb, err := openStorage(ctx, cfg, "cli serve")
			if err != nil {
				return err
			}
			defer db.Close()
			defer rdb.Close()

			registry, publisher, err := openQueue(ctx, rdb)
			if err != nil {
				return err
			}
			_ = registry

			v, err := vault.New(cfg.Vault.RawKeyHex, cfg.Auth.JWTSecret)
			if err != nil {
				return fmt.Errorf("cli serve: build vault: %w", err)
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
			return e.Start(srv.Addr(cfg.Server))
		},
	}
}

func workerCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the job queue worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			db, rdb, err := openStorage(ctx, cfg, "cli worker")
			if err != nil {
				return err
			}
			defer db.Close()
			defer rdb.Close()

			registry, publisher, err := openQueue(ctx, rdb)
			if err != nil {
				return err
			}

			v, err := vault.New(cfg.Vault.RawKeyHex, cfg.Auth.JWTSecret)
			if err != nil {
				return fmt.Errorf("cli worker: build vault: %w", err)
			}
			st := store.New(db)
			eventBus := bus.New(rdb)
			metrics := telemetry.New(prometheus.NewRegistry())

			consumerName := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
			consumer := streams.NewConsumer(rdb, registry, queue.ConsumerGroup, consumerName)

			logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)
			processor := worker.NewProcessor(logger, st, v, eventBus, consumer, publisher, cfg.Queue, cfg.Providers, metrics)

			logger.Printf("starting as consumer %s", consumerName)
			return processor.Run(ctx)
		},
	}
}

func migrateCmd(cfgPath *string) *cobra.Command {
	var dir, direction string
	var steps int
	const defaultDir = "file://migrations"

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if dir == "" {
				dir = defaultDir
			}
			return srv.Migrate(dir, cfg.Databases.Postgres.DSN(), direction, steps)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", defaultDir, "migrations source (file://migrations)")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}

// openStorage opens and pings the Postgres and Redis connections every
// role needs, tagging errors with who's asking.
func openStorage(ctx context.Context, cfg *config.Config, who string) (*sql.DB, *redis.Client, error) {
	db, err := sql.Open("postgres", cfg.Databases.Postgres.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("%s: open postgres: %w", who, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%s: ping postgres: %w", who, err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Databases.Redis.Addr(),
		Password: cfg.Databases.Redis.Password,
		DB:       cfg.Databases.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		rdb.Close()
		return nil, nil, fmt.Errorf("%s: ping redis: %w", who, err)
	}
	return db, rdb, nil
}

// openQueue builds the schema registry, ensures the consumer group exists
// and returns a publisher bound to it.
func openQueue(ctx context.Context, rdb *redis.Client) (*streams.SchemaRegistry, *streams.Publisher, error) {
	registry, err := queue.NewRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("build schema registry: %w", err)
	}
	if err := streams.EnsureGroup(ctx, rdb, queue.JobStream, queue.ConsumerGroup); err != nil {
		return nil, nil, fmt.Errorf("ensure consumer group: %w", err)
	}
	return registry, streams.NewPublisher(rdb, registry), nil
}
