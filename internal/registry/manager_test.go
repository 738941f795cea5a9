package registry

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/internal/backend"
	"mcpgateway/internal/config"
	"mcpgateway/internal/eventbus"
	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/gwtransport/gwtransporttest"
	"mcpgateway/internal/overlay"
)

func newTestManager(t *testing.T) (*ServiceManager, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(nil)
	sm := New(overlay.New(nil), bus, nil)
	return sm, bus
}

func withFakeTransport(sm *ServiceManager, fake *gwtransporttest.Fake) {
	sm.newBackend = func(cfg config.BackendServiceConfig) *backend.BackendService {
		b := backend.New(cfg, sm.bus, sm.logger)
		b.SetTransportFactory(gwtransporttest.Factory(fake))
		return b
	}
}

func quickCfg(name string) config.BackendServiceConfig {
	cfg := config.BackendServiceConfig{
		Name:      name,
		Transport: config.TransportStdio,
		Command:   "ignored",
	}.WithDefaults()
	cfg.Ping.Enabled = false
	cfg.Reconnect.Enabled = false
	return cfg
}

func TestStartPublishesAggregatedTools(t *testing.T) {
	sm, _ := newTestManager(t)

	fake := gwtransporttest.New()
	fake.Tools = []mcp.Tool{{Name: "calculator"}, {Name: "datetime"}}
	withFakeTransport(sm, fake)

	require.NoError(t, sm.AddConfig("svc", quickCfg("svc")))
	require.NoError(t, sm.Start(context.Background(), "svc"))

	assert.Eventually(t, func() bool {
		return len(sm.ListAllTools()) == 2
	}, time.Second, 5*time.Millisecond)

	names := map[string]bool{}
	for _, d := range sm.ListAllTools() {
		names[d.Name] = true
	}
	assert.True(t, names["svc__calculator"])
	assert.True(t, names["svc__datetime"])
}

func TestToolEnableFalseExcludesTool(t *testing.T) {
	sm, _ := newTestManager(t)

	fake := gwtransporttest.New()
	fake.Tools = []mcp.Tool{{Name: "calculator"}, {Name: "secret"}}
	withFakeTransport(sm, fake)

	cfg := quickCfg("svc")
	cfg.ToolEnable = map[string]bool{"secret": false}
	require.NoError(t, sm.AddConfig("svc", cfg))
	require.NoError(t, sm.Start(context.Background(), "svc"))

	assert.Eventually(t, func() bool {
		return len(sm.ListAllTools()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "svc__calculator", sm.ListAllTools()[0].Name)
}

func TestOverlayNameWinsOverBackendCollision(t *testing.T) {
	sm, _ := newTestManager(t)
	sm.overlay.LoadFromConfig([]config.CustomToolConfig{
		{Name: "svc__calculator", Handler: config.HandlerHTTP, HTTPURL: "http://example.invalid"},
	}, "")

	fake := gwtransporttest.New()
	fake.Tools = []mcp.Tool{{Name: "calculator"}}
	withFakeTransport(sm, fake)

	require.NoError(t, sm.AddConfig("svc", quickCfg("svc")))
	require.NoError(t, sm.Start(context.Background(), "svc"))

	assert.Eventually(t, func() bool {
		return len(sm.ListAllTools()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "svc__calculator", sm.ListAllTools()[0].Name)
}

func TestCallToolRoutesToOwningBackend(t *testing.T) {
	sm, _ := newTestManager(t)

	fake := gwtransporttest.New()
	fake.Tools = []mcp.Tool{{Name: "calculator"}}
	fake.CallResult = &mcp.CallToolResult{}
	withFakeTransport(sm, fake)

	require.NoError(t, sm.AddConfig("svc", quickCfg("svc")))
	require.NoError(t, sm.Start(context.Background(), "svc"))

	assert.Eventually(t, func() bool { return len(sm.ListAllTools()) == 1 }, time.Second, 5*time.Millisecond)

	_, err := sm.CallTool(context.Background(), "svc__calculator", map[string]any{"x": 1})
	require.NoError(t, err)
}

func TestCallToolUnknownNameIsToolNotFound(t *testing.T) {
	sm, _ := newTestManager(t)
	_, err := sm.CallTool(context.Background(), "nope", nil)
	assert.Error(t, err)
	assert.Equal(t, gwerrors.ToolNotFound, gwerrors.KindOf(err))
}

func TestRemoveConfigDropsToolsAndStopsBackend(t *testing.T) {
	sm, _ := newTestManager(t)

	fake := gwtransporttest.New()
	fake.Tools = []mcp.Tool{{Name: "calculator"}}
	withFakeTransport(sm, fake)

	require.NoError(t, sm.AddConfig("svc", quickCfg("svc")))
	require.NoError(t, sm.Start(context.Background(), "svc"))
	assert.Eventually(t, func() bool { return len(sm.ListAllTools()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sm.RemoveConfig("svc"))
	assert.Empty(t, sm.ListAllTools())
}

// TestAddConfigOnRunningBackendReconnectsWithNewConfig guards against
// Start silently reusing a stale *backend.BackendService (and the
// gwtransport.Transport closure captured from its original config)
// when AddConfig updates an already-started backend's settings.
func TestAddConfigOnRunningBackendReconnectsWithNewConfig(t *testing.T) {
	sm, _ := newTestManager(t)

	fakeOld := gwtransporttest.New()
	fakeOld.Tools = []mcp.Tool{{Name: "old-tool"}}
	fakeNew := gwtransporttest.New()
	fakeNew.Tools = []mcp.Tool{{Name: "new-tool"}}

	sm.newBackend = func(cfg config.BackendServiceConfig) *backend.BackendService {
		b := backend.New(cfg, sm.bus, sm.logger)
		fake := fakeOld
		if cfg.Command == "new-command" {
			fake = fakeNew
		}
		b.SetTransportFactory(gwtransporttest.Factory(fake))
		return b
	}

	cfg := quickCfg("svc")
	cfg.Command = "old-command"
	require.NoError(t, sm.AddConfig("svc", cfg))
	require.NoError(t, sm.Start(context.Background(), "svc"))
	assert.Eventually(t, func() bool { return len(sm.ListAllTools()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "svc__old-tool", sm.ListAllTools()[0].Name)

	cfg.Command = "new-command"
	require.NoError(t, sm.AddConfig("svc", cfg))

	assert.Eventually(t, func() bool {
		tools := sm.ListAllTools()
		return len(tools) == 1 && tools[0].Name == "svc__new-tool"
	}, time.Second, 5*time.Millisecond, "backend should reconnect with the updated config instead of keeping its stale transport")
}

func TestServiceNameWithHyphenNormalisesToUnderscoreOnWire(t *testing.T) {
	sm, _ := newTestManager(t)

	fake := gwtransporttest.New()
	fake.Tools = []mcp.Tool{{Name: "calculator"}}
	withFakeTransport(sm, fake)

	require.NoError(t, sm.AddConfig("my-svc", quickCfg("my-svc")))
	require.NoError(t, sm.Start(context.Background(), "my-svc"))

	assert.Eventually(t, func() bool { return len(sm.ListAllTools()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "my_svc__calculator", sm.ListAllTools()[0].Name)
}
