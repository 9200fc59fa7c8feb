// Command appserver is the CLI surface for the memory core (§4's service
// interface, referenced from spec.md's "CLI surface consumes the core's
// service interface directly"). The HTTP/SSE surface is explicitly out of
// scope for this core — it is an external collaborator that would wrap
// these same operations — so this binary exercises the core as a library
// the way an operator or a thin HTTP layer built on top of it would: run
// an agent turn, run a REM query, or force-reset a stuck queue row.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/percolation-labs/p8k8/internal/agent"
	"github.com/percolation-labs/p8k8/internal/chatmemory"
	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/kms"
	"github.com/percolation-labs/p8k8/internal/llm"
	"github.com/percolation-labs/p8k8/internal/platform/config"
	"github.com/percolation-labs/p8k8/internal/platform/database"
	"github.com/percolation-labs/p8k8/internal/queue"
	"github.com/percolation-labs/p8k8/internal/rem"
	"github.com/percolation-labs/p8k8/internal/store/postgres"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		fatal("connect to postgres", err)
	}
	defer db.Close()

	switch os.Args[1] {
	case "turn":
		runTurn(ctx, cfg, db, os.Args[2:])
	case "rem":
		runREM(ctx, db, os.Args[2:])
	case "queue-reset":
		runQueueReset(ctx, db, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: appserver <command> [flags]

commands:
  turn         run one agent turn and print the assistant response
  rem          run a REM query string and print the resulting hits as JSON
  queue-reset  force-reset a task_queue row back to pending`)
}

func runTurn(ctx context.Context, cfg *config.Config, db *sqlx.DB, args []string) {
	fs := flag.NewFlagSet("turn", flag.ExitOnError)
	agentName := fs.String("agent", "chatbot", "agent schema name to run")
	tenantID := fs.String("tenant", "", "tenant id")
	userID := fs.String("user", "", "user id")
	sessionID := fs.String("session", "", "session id")
	message := fs.String("message", "", "user message content")
	_ = fs.Parse(args)

	if *tenantID == "" || *sessionID == "" || *message == "" {
		fatal("turn", fmt.Errorf("-tenant, -session, and -message are required"))
	}

	kmsAdapter, err := kms.New(cfg.KMS)
	if err != nil {
		fatal("build kms adapter", err)
	}
	keys := postgres.NewTenantKeyStore(db)
	envelope := crypto.NewService(kmsAdapter, keys)
	chat := chatmemory.NewService(db, envelope)
	schemas := postgres.NewSchemaRegistry(db)
	tools := postgres.NewToolRegistry(db)

	zlog := zerolog.New(os.Stderr).With().Timestamp().Logger()
	llmClient := llm.NewStubClient(1536)
	adapter := agent.NewAdapter(schemas, tools, chat, llmClient, zlog)

	mode := crypto.ModeDisabled
	if tenantKey, _ := keys.GetTenantKey(ctx, *tenantID); tenantKey != nil {
		mode = crypto.ResolveMode(crypto.Mode(tenantKey.Mode), true)
	}

	result, err := adapter.Run(ctx, *agentName, agent.TurnContext{
		TenantID:  *tenantID,
		UserID:    *userID,
		SessionID: *sessionID,
		Mode:      mode,
	}, *message)
	if err != nil {
		fatal("run turn", err)
	}

	fmt.Println(result.Text)
}

func runREM(ctx context.Context, db *sqlx.DB, args []string) {
	fs := flag.NewFlagSet("rem", flag.ExitOnError)
	query := fs.String("query", "", "REM query string, e.g. LOOKUP \"jane-doe\"")
	_ = fs.Parse(args)
	if *query == "" {
		fatal("rem", fmt.Errorf("-query is required"))
	}

	schemas := postgres.NewSchemaRegistry(db)
	embedder := llm.NewStubClient(1536)
	engine := rem.NewEngine(db, schemas, embedder)

	hits, err := engine.Run(ctx, *query)
	if err != nil {
		fatal("rem", err)
	}

	out, err := json.MarshalIndent(hits, "", "  ")
	if err != nil {
		fatal("rem: marshal hits", err)
	}
	fmt.Println(string(out))
}

func runQueueReset(ctx context.Context, db *sqlx.DB, args []string) {
	fs := flag.NewFlagSet("queue-reset", flag.ExitOnError)
	taskID := fs.String("task-id", "", "task_queue row id to force back to pending")
	_ = fs.Parse(args)
	if *taskID == "" {
		fatal("queue-reset", fmt.Errorf("-task-id is required"))
	}

	zlog := zerolog.New(os.Stderr).With().Timestamp().Logger()
	q := queue.NewService(db)
	if err := q.AdminReset(ctx, *taskID); err != nil {
		fatal("queue-reset", err)
	}
	zlog.Warn().Str("task_id", *taskID).Msg("task_queue row force-reset to pending via admin CLI")
	fmt.Println("reset")
}

func fatal(op string, err error) {
	fmt.Fprintf(os.Stderr, "appserver: %s: %v\n", op, err)
	os.Exit(1)
}
