// Command worker runs the background task-queue and embedding-queue claim
// loops (§4.8, §4.7) for one process, plus the internal /healthz and
// /metrics surface cmd/scheduler shares the shape of. One process claims
// every tier; operators scale throughput by running more processes, not by
// splitting tiers across binaries (§5's "Scheduling": per-handler work is
// I/O-bound, so concurrency comes from running N of these, not from
// threading inside one).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/percolation-labs/p8k8/internal/agent"
	"github.com/percolation-labs/p8k8/internal/blob"
	"github.com/percolation-labs/p8k8/internal/chatmemory"
	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/embedding"
	"github.com/percolation-labs/p8k8/internal/kms"
	"github.com/percolation-labs/p8k8/internal/llm"
	"github.com/percolation-labs/p8k8/internal/platform/config"
	"github.com/percolation-labs/p8k8/internal/platform/database"
	"github.com/percolation-labs/p8k8/internal/platform/logging"
	"github.com/percolation-labs/p8k8/internal/platform/metrics"
	"github.com/percolation-labs/p8k8/internal/platform/migrations"
	"github.com/percolation-labs/p8k8/internal/platform/pgnotify"
	"github.com/percolation-labs/p8k8/internal/queue"
	"github.com/percolation-labs/p8k8/internal/store/postgres"
	"github.com/percolation-labs/p8k8/internal/worker"
)

func main() {
	migrateOnStart := flag.Bool("migrate", false, "apply migrations before starting (prefer running cmd/migrate once instead)")
	workerID := flag.String("worker-id", hostnameOrFallback(), "identifier this process claims tasks under")
	batch := flag.Int("batch", 10, "tasks claimed per tier per poll")
	pollSeconds := flag.Int("poll-seconds", 5, "fallback poll interval when no pgnotify wake-up arrives")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal(err, "load config")
	}
	log := logging.New(cfg.Logging)
	zlog := zerolog.New(os.Stdout).With().Timestamp().Str("process", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		fatal(err, "connect to postgres")
	}
	defer db.Close()

	if *migrateOnStart {
		if err := migrations.Apply(db.DB); err != nil {
			fatal(err, "apply migrations")
		}
	}

	kmsAdapter, err := kms.New(cfg.KMS)
	if err != nil {
		fatal(err, "build kms adapter")
	}
	envelope := crypto.NewService(kmsAdapter, postgres.NewTenantKeyStore(db))
	chat := chatmemory.NewService(db, envelope)
	q := queue.NewService(db)
	schemas := postgres.NewSchemaRegistry(db)
	tools := postgres.NewToolRegistry(db)

	llmClient := buildLLMClient(cfg.Agent)
	agentAdapter := agent.NewAdapter(schemas, tools, chat, llmClient, zlog)

	blobStore, err := buildBlobStore(ctx, cfg.Blob)
	if err != nil {
		fatal(err, "build blob store")
	}

	runtime := worker.NewRuntime(db, q, chat, envelope, blobStore, extractorStub{}, agentAdapter,
		rate.Limit(cfg.Agent.ProviderRPS), zlog)

	embedWorker := embedding.NewWorker(db, llmClient, postgres.NewSourceReader(db, envelope),
		rate.Limit(cfg.Agent.ProviderRPS), zlog)

	bus := pgnotify.New(cfg.Database.URL, zlog)
	defer bus.Close()

	tierWake := map[domain.Tier]chan struct{}{
		domain.TierMicro:  make(chan struct{}, 1),
		domain.TierSmall:  make(chan struct{}, 1),
		domain.TierMedium: make(chan struct{}, 1),
		domain.TierLarge:  make(chan struct{}, 1),
	}
	for tier, wake := range tierWake {
		if err := bus.Subscribe(pgnotify.TaskQueueChannel, wake); err != nil {
			zlog.Warn().Err(err).Str("tier", string(tier)).Msg("pgnotify subscribe failed, falling back to polling")
		}
	}
	embedWake := make(chan struct{}, 1)
	if err := bus.Subscribe(pgnotify.EmbeddingQueueChannel, embedWake); err != nil {
		zlog.Warn().Err(err).Msg("pgnotify subscribe failed for embedding queue, falling back to polling")
	}

	poll := time.Duration(*pollSeconds) * time.Second

	healthy := func() error { return db.PingContext(ctx) }
	go serveHealth(ctx, cfg.Metrics, zlog, healthy)

	var wg sync.WaitGroup
	tiers := []domain.Tier{domain.TierMicro, domain.TierSmall, domain.TierMedium, domain.TierLarge}
	for _, tier := range tiers {
		tier := tier
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runtime.Run(ctx, tier, *workerID, *batch, poll, tierWake[tier]); err != nil {
				zlog.Error().Err(err).Str("tier", string(tier)).Msg("runtime loop exited")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := embedWorker.Run(ctx, *batch, poll, embedWake); err != nil {
			zlog.Error().Err(err).Msg("embedding worker loop exited")
		}
	}()

	log.WithContext(ctx).Info("worker process started")
	<-ctx.Done()
	wg.Wait()
}

func hostnameOrFallback() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "worker-unknown"
	}
	return h
}

func buildLLMClient(cfg config.AgentConfig) llm.Client {
	// No real provider SDK is wired into this core yet (see DESIGN.md);
	// the stub is the only Client implementation, driven by dimensionality
	// alone since it never calls out to a network.
	return llm.NewStubClient(1536)
}

func buildBlobStore(ctx context.Context, cfg config.BlobConfig) (worker.BlobStore, error) {
	if cfg.Bucket == "" {
		return blob.NewMemStore(), nil
	}
	return blob.NewS3Store(ctx, cfg)
}

// extractorStub satisfies worker.TextExtractor until a real chunking/OCR
// collaborator is wired in; file_processing tasks for mime types it can't
// handle fail with a clear error rather than silently producing empty text.
type extractorStub struct{}

func (extractorStub) Extract(ctx context.Context, mimeType string, data []byte) (string, error) {
	if mimeType == "text/plain" {
		return string(data), nil
	}
	return "", errUnsupportedMime(mimeType)
}

type errUnsupportedMime string

func (e errUnsupportedMime) Error() string {
	return "no text extractor wired for mime type " + string(e)
}

func serveHealth(ctx context.Context, cfg config.MetricsConfig, log zerolog.Logger, healthy func() error) {
	srv := &http.Server{
		Addr:    fmtAddr(cfg),
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

func fmtAddr(cfg config.MetricsConfig) string {
	return cfg.Host + ":" + strconv.Itoa(cfg.Port)
}

func fatal(err error, msg string) {
	zerolog.New(os.Stdout).With().Timestamp().Logger().Fatal().Err(err).Msg(msg)
}
