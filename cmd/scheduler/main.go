// Command scheduler runs the periodic enqueuers of §4.8 on a cron(v3)
// schedule (dreaming, news, reading_summary, stale recovery, incremental
// KV rebuild) plus the same internal /healthz and /metrics surface
// cmd/worker exposes. Exactly one instance should run per deployment;
// cron registration is idempotent within a process but two processes
// would double-enqueue.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/percolation-labs/p8k8/internal/kv"
	"github.com/percolation-labs/p8k8/internal/platform/config"
	"github.com/percolation-labs/p8k8/internal/platform/database"
	"github.com/percolation-labs/p8k8/internal/platform/logging"
	"github.com/percolation-labs/p8k8/internal/platform/metrics"
	"github.com/percolation-labs/p8k8/internal/platform/migrations"
	"github.com/percolation-labs/p8k8/internal/queue"
	"github.com/percolation-labs/p8k8/internal/store/postgres"
)

func main() {
	migrateOnStart := flag.Bool("migrate", false, "apply migrations before starting (prefer running cmd/migrate once instead)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stdout).Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Logging)
	zlog := zerolog.New(os.Stdout).With().Timestamp().Str("process", "scheduler").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		zlog.Fatal().Err(err).Msg("connect to postgres")
	}
	defer db.Close()

	if *migrateOnStart {
		if err := migrations.Apply(db.DB); err != nil {
			zlog.Fatal().Err(err).Msg("apply migrations")
		}
	}

	schemas := postgres.NewSchemaRegistry(db)
	rebuilder := kv.NewRebuilder(db, schemas)
	q := queue.NewService(db)
	scheduler := queue.NewScheduler(db, q, rebuilder, zlog, cfg.Agent.NewsHour)

	healthy := func() error { return db.PingContext(ctx) }
	go serveHealth(ctx, cfg.Metrics, zlog, healthy)

	log.WithContext(ctx).Info("scheduler process started")
	if err := scheduler.Start(ctx); err != nil {
		zlog.Error().Err(err).Msg("scheduler exited")
	}
}

func serveHealth(ctx context.Context, cfg config.MetricsConfig, log zerolog.Logger, healthy func() error) {
	srv := &http.Server{
		Addr:    cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler: metrics.Router(healthy),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("health server exited")
	}
}
