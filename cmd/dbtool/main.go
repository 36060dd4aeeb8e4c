package main

import (
	"context"
	"log"

	"fleet-route-service/internal/adapters/repositories"
	"fleet-route-service/internal/config"
	"fleet-route-service/internal/platform/db"
	"fleet-route-service/internal/ports"

	"github.com/joho/godotenv"
)

// dbtool prepares the configured database: it creates the schema and, when
// SEED_PATH is set, loads draft routes from the seed file.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	cfg, err := config.Load(config.Get("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	var repo ports.RouteRepository
	switch cfg.DBDriver {
	case "postgres":
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatal(err)
		}
		defer sqlDB.Close()

		log.Println("Initializing postgres schema...")
		if err := repositories.InitSchema(sqlDB, repositories.Postgres); err != nil {
			log.Fatalf("schema initialization failed: %v", err)
		}

		pool, err := db.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal(err)
		}
		defer pool.Close()
		repo = repositories.NewPostgresRouteRepository(pool)

	default:
		sqlite, err := db.OpenSQLite(cfg.DBPath)
		if err != nil {
			log.Fatal(err)
		}
		defer sqlite.Close()

		log.Printf("Initializing sqlite schema path=%s...", cfg.DBPath)
		if err := repositories.InitSchema(sqlite.Conn(), repositories.SQLite); err != nil {
			log.Fatalf("schema initialization failed: %v", err)
		}
		repo = repositories.NewSqliteRouteRepository(sqlite)
	}
	log.Println("Schema ready.")

	if cfg.SeedPath == "" {
		return
	}

	log.Printf("Seeding routes from %s...", cfg.SeedPath)
	n, err := repositories.SeedFromJSON(ctx, repo, cfg.SeedPath)
	if err != nil {
		log.Fatalf("seeding failed: %v", err)
	}
	log.Printf("Seeding complete. routes=%d", n)
}
