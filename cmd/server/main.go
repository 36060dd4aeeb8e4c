package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fleet-route-service/internal/adapters/lock"
	"fleet-route-service/internal/adapters/repositories"
	"fleet-route-service/internal/adapters/telemetry"
	"fleet-route-service/internal/api"
	"fleet-route-service/internal/config"
	"fleet-route-service/internal/platform/db"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/services"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

type stores struct {
	routes    ports.RouteRepository
	positions ports.PositionRepository
	vehicles  ports.VehicleRepository
	ping      func(ctx context.Context) error
	closer    io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// main is the application composition root.
// It wires concrete adapters (SQLite or Postgres, Redis, Wialon) behind ports and starts the HTTP server.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	cfg, err := config.Load(config.Get("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer st.closer.Close()

	locker, lockCloser, err := newLocker(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer lockCloser.Close()

	aggregator := services.NewTelemetryAggregator(st.positions, cfg.OnlineFreshness, nil)
	tracker := services.NewRouteTracker(st.routes, locker, services.TrackerConfig{
		ArrivalRadiusKm: cfg.ArrivalRadiusKm,
		AverageSpeedKmh: cfg.AverageSpeedKmh,
	})

	syncDone := make(chan struct{})
	if cfg.WialonToken != "" {
		provider, err := telemetry.NewWialonProvider(cfg.WialonAPIURL, cfg.WialonToken)
		if err != nil {
			log.Fatal(err)
		}
		syncer := services.NewTelemetrySync(provider, st.vehicles, aggregator, tracker, services.SyncConfig{
			PositionInterval: cfg.PositionSyncInterval,
			UnitInterval:     cfg.UnitSyncInterval,
			Timeout:          cfg.SyncTimeout,
		})
		go func() {
			defer close(syncDone)
			syncer.Run(ctx)

			logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Logout(logoutCtx); err != nil {
				log.Printf("wialon logout failed: %v", err)
			}
		}()
	} else {
		log.Println("WIALON_TOKEN not set, telemetry sync disabled")
		close(syncDone)
	}

	router := api.NewRouter(api.Deps{
		Tracker:         tracker,
		Aggregator:      aggregator,
		Vehicles:        st.vehicles,
		AverageSpeedKmh: cfg.AverageSpeedKmh,
		CORSOrigins:     cfg.CORSOrigins,
		Ping:            st.ping,
	})

	// Write timeout leaves room for genetic runs on large stop sets.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("Server listening addr=:%s db_driver=%s", cfg.Port, cfg.DBDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}

	stop()
	<-syncDone
	log.Println("Server stopped")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.DBDriver {
	case "postgres":
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open stores: %w", err)
		}
		defer sqlDB.Close()
		if err := repositories.InitSchema(sqlDB, repositories.Postgres); err != nil {
			return nil, fmt.Errorf("open stores: %w", err)
		}

		pool, err := db.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open stores: %w", err)
		}
		return &stores{
			routes:    repositories.NewPostgresRouteRepository(pool),
			positions: repositories.NewPostgresPositionRepository(pool),
			vehicles:  repositories.NewPostgresVehicleRepository(pool),
			ping:      pool.Ping,
			closer:    closerFunc(func() error { pool.Close(); return nil }),
		}, nil

	default:
		sqlite, err := db.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open stores: %w", err)
		}
		if err := repositories.InitSchema(sqlite.Conn(), repositories.SQLite); err != nil {
			sqlite.Close()
			return nil, fmt.Errorf("open stores: %w", err)
		}
		return &stores{
			routes:    repositories.NewSqliteRouteRepository(sqlite),
			positions: repositories.NewSqlitePositionRepository(sqlite),
			vehicles:  repositories.NewSqliteVehicleRepository(sqlite),
			ping:      sqlite.Conn().PingContext,
			closer:    sqlite,
		}, nil
	}
}

// newLocker uses Redis when configured so replicas share optimization locks.
// The returned closer releases the Redis client.
func newLocker(ctx context.Context, cfg *config.Config) (ports.RouteLocker, io.Closer, error) {
	if cfg.RedisURL == "" {
		return lock.NewLocalLocker(), closerFunc(func() error { return nil }), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis locker: parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis locker: ping: %w", err)
	}
	return lock.NewRedisLocker(client, 0), client, nil
}
