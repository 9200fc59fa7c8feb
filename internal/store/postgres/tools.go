package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/percolation-labs/p8k8/internal/agent"
	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// toolCallTimeout bounds one remote tool invocation, the same shape as
// internal/kms's AWS/Vault adapters bounding their own outbound calls.
const toolCallTimeout = 30 * time.Second

// ToolRegistry implements internal/agent.ToolRegistry against the tools and
// servers entity tables: a tool row names the server that hosts it, and
// invocation is a plain JSON POST to that server's base_url. Nothing in
// this core speaks a richer tool-calling wire protocol, so stdlib net/http
// is the whole client (see DESIGN.md).
type ToolRegistry struct {
	db     *sqlx.DB
	client *http.Client
}

func NewToolRegistry(db *sqlx.DB) *ToolRegistry {
	return &ToolRegistry{db: db, client: &http.Client{Timeout: toolCallTimeout}}
}

// ToolByName resolves a tool row (optionally scoped to a named server) and
// returns an invocable remoteTool bound to its hosting server's base_url.
func (r *ToolRegistry) ToolByName(ctx context.Context, name, server string) (agent.Tool, error) {
	var t domain.Tool
	var err error
	if server == "" {
		err = r.db.GetContext(ctx, &t,
			`SELECT * FROM tools WHERE name = $1 AND deleted_at IS NULL LIMIT 1`, name)
	} else {
		err = r.db.GetContext(ctx, &t, `
			SELECT tools.* FROM tools
			JOIN servers ON servers.id = tools.server_id
			WHERE tools.name = $1 AND servers.name = $2
			  AND tools.deleted_at IS NULL AND servers.deleted_at IS NULL LIMIT 1`,
			name, server)
	}
	if err != nil {
		return nil, perrors.NotFound("tool", name)
	}

	var s domain.Server
	if err := r.db.GetContext(ctx, &s,
		`SELECT * FROM servers WHERE id = $1 AND deleted_at IS NULL`, t.ServerID); err != nil {
		return nil, perrors.NotFound("server", t.ServerID)
	}

	return &remoteTool{tool: t, baseURL: s.BaseURL, client: r.client}, nil
}

// remoteTool invokes one server-hosted tool over HTTP.
type remoteTool struct {
	tool    domain.Tool
	baseURL string
	client  *http.Client
}

func (t *remoteTool) Name() string        { return t.tool.Name }
func (t *remoteTool) Description() string { return t.tool.Description }

func (t *remoteTool) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, perrors.Internal("marshal tool args", err)
	}

	url := fmt.Sprintf("%s/tools/%s", t.baseURL, t.tool.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, perrors.Internal("build tool request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, perrors.TransientStore("tool_invoke:"+t.tool.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, perrors.Internal("tool_invoke:"+t.tool.Name, fmt.Errorf("server returned status %d", resp.StatusCode))
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, perrors.Internal("decode tool response", err)
	}
	return out, nil
}
