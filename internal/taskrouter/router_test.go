package taskrouter

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/internal/eventbus"
	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/registry"
	"mcpgateway/internal/resultcache"
)

type fakeServiceRouter struct {
	calls int
	err   error
	tools []registry.ToolDescriptor
}

func (f *fakeServiceRouter) ListAllTools() []registry.ToolDescriptor { return f.tools }

func (f *fakeServiceRouter) CallTool(_ context.Context, name string, _ map[string]any) (*mcp.CallToolResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "ok"}}}, nil
}

func newTestRouter(t *testing.T, sr ServiceRouter) (*Router, *resultcache.Cache) {
	t.Helper()
	bus := eventbus.New(nil)
	cache := resultcache.New(bus, nil)
	t.Cleanup(cache.Stop)
	return New(sr, cache, nil), cache
}

func TestCallToolInvokesUnderlyingRouterAndRecordsTask(t *testing.T) {
	sr := &fakeServiceRouter{}
	r, cache := newTestRouter(t, sr)

	result, err := r.CallTool(context.Background(), "svc__calc", map[string]any{"expression": "1+1"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, sr.calls)

	history := cache.History()
	require.NotEmpty(t, history)
	assert.Equal(t, resultcache.StatusCompleted, history[len(history)-1].To)
}

func TestCallToolPropagatesUnderlyingError(t *testing.T) {
	sr := &fakeServiceRouter{err: gwerrors.New(gwerrors.ToolNotFound, "svc__missing")}
	r, _ := newTestRouter(t, sr)

	result, err := r.CallTool(context.Background(), "svc__missing", nil)
	assert.Nil(t, result)
	assert.Error(t, err)
	assert.Equal(t, gwerrors.ToolNotFound, gwerrors.KindOf(err))
}

func TestListAllToolsDelegates(t *testing.T) {
	sr := &fakeServiceRouter{tools: []registry.ToolDescriptor{{Name: "svc__calc"}}}
	r, _ := newTestRouter(t, sr)

	assert.Equal(t, sr.tools, r.ListAllTools())
}
