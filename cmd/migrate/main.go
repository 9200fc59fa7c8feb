// Command migrate applies the core's embedded schema migrations and,
// optionally, bootstraps the schemas registry from a YAML fixture. It is
// the one entrypoint that never starts a long-running loop: it runs once
// and exits, following the teacher's cmd/appserver's -migrate-on-start
// idiom but pulled into its own binary since every other process (worker,
// scheduler) can then open with -migrate=false and share one migration
// path without racing each other on `schema_migrations`.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/percolation-labs/p8k8/internal/platform/config"
	"github.com/percolation-labs/p8k8/internal/platform/database"
	"github.com/percolation-labs/p8k8/internal/platform/migrations"
	"github.com/percolation-labs/p8k8/internal/platform/seed"
	"github.com/percolation-labs/p8k8/internal/store/postgres"
)

func main() {
	seedPath := flag.String("seed", "", "path to a seed fixture to apply after migrating (defaults to config's P8_SEED_FIXTURE_PATH; empty to skip)")
	verify := flag.Bool("verify", true, "run schema-drift verification after migrating")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(db.DB); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}
	log.Println("migrations applied")

	fixture := cfg.Seed.FixturePath
	if *seedPath != "" {
		fixture = *seedPath
	}
	if fixture != "" {
		f, err := seed.Load(fixture)
		if err != nil {
			log.Fatalf("load seed fixture %s: %v", fixture, err)
		}
		if err := seed.Apply(ctx, db, f); err != nil {
			log.Fatalf("apply seed fixture: %v", err)
		}
		log.Printf("seed fixture %s applied", fixture)
	}

	if *verify {
		registry := postgres.NewSchemaRegistry(db)
		schemas, err := registry.Tables(ctx)
		if err != nil {
			log.Fatalf("load schemas for verification: %v", err)
		}
		if err := migrations.VerifyAll(ctx, db, schemas); err != nil {
			log.Fatalf("schema drift: %v", err)
		}
		log.Println("schema verification passed")
	}
}
