// Package agent turns a declarative agent schema row into a live agent for
// one turn (§4.10): prompt assembly, structured output enforcement,
// ask_agent delegation, and chained-tool invocation.
package agent

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/percolation-labs/p8k8/internal/chatmemory"
	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	"github.com/percolation-labs/p8k8/internal/llm"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// schemaCacheTTL bounds how long a resolved agent schema stays resident
// before the registry is re-consulted, the same expirable-LRU idiom
// internal/crypto uses for its per-tenant DEK cache.
const schemaCacheTTL = 5 * time.Minute

// maxDelegationDepth bounds how many ask_agent hops a single turn may take,
// protecting against a cycle of agents delegating to one another.
const maxDelegationDepth = 3

// Registry is the schema lookup boundary the adapter needs.
type Registry interface {
	AgentByName(ctx context.Context, name string) (*domain.Schema, error)
}

// Tool is one invocable tool a server exposes to an agent.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ToolRegistry resolves a tool by name, scoped to whatever servers are
// wired into a given deployment. Production wiring supplies tools backed
// by MCP servers or in-process handlers; this package never hard-codes
// the set.
type ToolRegistry interface {
	ToolByName(ctx context.Context, name, server string) (Tool, error)
}

// Adapter assembles and runs agents against a Registry of schema rows.
type Adapter struct {
	registry Registry
	tools    ToolRegistry
	chat     *chatmemory.Service
	client   llm.Client
	cache    *lru.LRU[string, *domain.Schema]
	log      zerolog.Logger
}

func NewAdapter(registry Registry, tools ToolRegistry, chat *chatmemory.Service, client llm.Client, log zerolog.Logger) *Adapter {
	return &Adapter{
		registry: registry,
		tools:    tools,
		chat:     chat,
		client:   client,
		cache:    lru.NewLRU[string, *domain.Schema](256, nil, schemaCacheTTL),
		log:      log,
	}
}

// schema resolves an agent schema row by name, cached for schemaCacheTTL.
func (a *Adapter) schema(ctx context.Context, name string) (*domain.Schema, error) {
	if s, ok := a.cache.Get(name); ok {
		return s, nil
	}
	s, err := a.registry.AgentByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if s.Kind != domain.SchemaKindAgent {
		return nil, perrors.InvalidInput("agent_name", "schema "+name+" is not an agent")
	}
	a.cache.Add(name, s)
	return s, nil
}

// TurnContext carries the caller-scoped values prompt assembly and
// persistence need but that never belong in the stored schema: the
// session/user this turn belongs to, the tenant's resolved encryption
// mode, and any extra instruction sections the request headers supplied.
type TurnContext struct {
	TenantID      string
	UserID        string
	SessionID     string
	Mode          crypto.Mode
	ExtraSections map[string]string
}
