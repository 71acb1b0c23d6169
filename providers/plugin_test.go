package providers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/replication/config"
	"github.com/orchestra-mcp/replication/src/replicator"
	"github.com/orchestra-mcp/replication/src/replicator/replicatortest"
	"github.com/orchestra-mcp/replication/src/socket"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func activate(t *testing.T) *ReplicationPlugin {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.InMemory = true

	p := NewReplicationPlugin()
	err := p.Activate(Deps{
		Config: cfg,
		Logger: zerolog.Nop(),
		NewEngine: func(b *socket.Bridge) replicator.Engine {
			e := replicatortest.New()
			e.Attach(b)
			return e
		},
		DisableRelay: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Deactivate() })
	return p
}

func findTool(t *testing.T, p *ReplicationPlugin, name string) Tool {
	t.Helper()
	for _, tool := range p.Tools() {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %s not registered", name)
	return Tool{}
}

func TestActivateRequiresEngine(t *testing.T) {
	err := NewReplicationPlugin().Activate(Deps{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestActivateAndDeactivate(t *testing.T) {
	p := activate(t)
	assert.True(t, p.IsActive())
	assert.NotNil(t, p.Service())

	require.NoError(t, p.Deactivate())
	assert.False(t, p.IsActive())
}

func TestToolsResolveConflicts(t *testing.T) {
	p := activate(t)
	store := p.Store()

	doc, err := store.Insert("doc1", types.Body{"foo": "base"})
	require.NoError(t, err)
	_, err = store.Replace("doc1", types.Body{"foo": "bar"})
	require.NoError(t, err)
	_, err = store.PutExisting("doc1", []string{"2-remote", doc.CurrentRev}, types.Body{"foo": "buz"})
	require.NoError(t, err)

	out, err := findTool(t, p, "get_conflicts").Handler(map[string]any{"doc_id": "doc1"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.(map[string]any)["count"])

	_, err = findTool(t, p, "resolve_conflicts").Handler(map[string]any{
		"doc_id": "doc1",
		"body":   map[string]any{"foo": "merged"},
	})
	require.NoError(t, err)

	doc, err = store.Get("doc1")
	require.NoError(t, err)
	assert.False(t, doc.Conflicted())
	assert.Equal(t, types.Body{"foo": "merged"}, doc.Body())
}

func TestToolsValidateInput(t *testing.T) {
	p := activate(t)
	_, err := findTool(t, p, "get_conflicts").Handler(map[string]any{})
	assert.Error(t, err)
	_, err = findTool(t, p, "resolve_conflicts").Handler(map[string]any{})
	assert.Error(t, err)
}

func TestToolListReplications(t *testing.T) {
	p := activate(t)
	out, err := findTool(t, p, "list_replications").Handler(nil)
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, 0, result["active"])
	assert.Equal(t, 100, result["max"])
}

func TestInfoRoute(t *testing.T) {
	p := activate(t)
	app := fiber.New()
	p.RegisterRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/replication/info", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, float64(100), info["max_replications"])
	assert.Equal(t, float64(0), info["active"])
}

func TestHandlerRoutesMetrics(t *testing.T) {
	p := activate(t)
	h := p.Handler()

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/metrics")
	h(&ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "replication_")

	var plain fasthttp.RequestCtx
	plain.Request.SetRequestURI("/db")
	h(&plain)
	assert.Equal(t, fasthttp.StatusBadRequest, plain.Response.StatusCode())
}
