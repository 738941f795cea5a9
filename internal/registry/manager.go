// Package registry implements ServiceManager (spec §4.C): it owns the
// set of BackendServices, aggregates their tools with CustomToolOverlay
// into one lock-free-readable catalogue, and routes tool calls.
// Grounded on giantswarm-muster's internal/aggregator.ServerRegistry
// (copy-on-write snapshot rebuilt on connect/disconnect, so readers
// never block behind a rebuild) and its nameTracker collision
// resolution, generalized to the spec's mandatory
// "serviceName__originalName" prefixing (muster's own smart-prefixing
// was conditional; this gateway always prefixes) and overlay-wins
// precedence.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"mcpgateway/internal/backend"
	"mcpgateway/internal/config"
	"mcpgateway/internal/eventbus"
	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/overlay"
	"mcpgateway/pkg/logging"
)

// ToolDescriptor is one entry of the aggregated tool catalogue as
// exposed to tools/list.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema mcp.ToolInputSchema
}

// entry is the registry's private routing record for one aggregated
// name: which BackendService owns it (empty/isOverlay for overlay
// tools) and what name to use when calling that owner.
type entry struct {
	owner        string
	isOverlay    bool
	originalName string
}

// registrySnapshot is swapped atomically on every rebuild so
// ListAllTools and CallTool never block behind one in progress (spec
// §4.C step 3).
type registrySnapshot struct {
	descriptors []ToolDescriptor
	entries     map[string]entry
}

// ServiceManager owns every configured BackendService plus the
// CustomToolOverlay and presents one routed, aggregated tool
// catalogue.
type ServiceManager struct {
	mu       sync.RWMutex
	configs  map[string]config.BackendServiceConfig
	backends map[string]*backend.BackendService
	order    []string

	overlay *overlay.Overlay
	bus     *eventbus.Bus
	logger  logging.Logger

	// newBackend builds the BackendService for a stored config. Defaults
	// to backend.New; overridable (tests) to inject a prewired fake
	// Transport via BackendService.SetTransportFactory.
	newBackend func(cfg config.BackendServiceConfig) *backend.BackendService

	snapMu   sync.RWMutex
	snapshot *registrySnapshot
}

// New builds a ServiceManager bound to ov and bus. It subscribes itself
// to service:connected/service:disconnected so the catalogue rebuilds
// automatically (spec §4.C "Aggregation").
func New(ov *overlay.Overlay, bus *eventbus.Bus, logger logging.Logger) *ServiceManager {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	sm := &ServiceManager{
		configs:  make(map[string]config.BackendServiceConfig),
		backends: make(map[string]*backend.BackendService),
		overlay:  ov,
		bus:      bus,
		logger:   logger,
		snapshot: &registrySnapshot{entries: make(map[string]entry)},
	}
	sm.newBackend = func(cfg config.BackendServiceConfig) *backend.BackendService {
		return backend.New(cfg, sm.bus, sm.logger)
	}
	bus.Subscribe(eventbus.TopicServiceConnected, func(eventbus.Event) { sm.rebuild() })
	bus.Subscribe(eventbus.TopicServiceDisconnected, func(eventbus.Event) { sm.rebuild() })
	return sm
}

// LoadConfig seeds the overlay and every backend config from cfg. It
// does not start any backend; call StartAll for that.
func (sm *ServiceManager) LoadConfig(cfg *config.Config) error {
	sm.overlay.LoadFromConfig(cfg.CustomTools, cfg.CozeToken)

	for _, b := range cfg.Backends {
		if b.WorkingDir == "" {
			b.WorkingDir = cfg.WorkingDir
		}
		if err := sm.AddConfig(b.Name, b); err != nil {
			return err
		}
	}
	sm.rebuild()
	return nil
}

// AddConfig replaces any existing configuration for name atomically.
// If a backend by that name was already started, it is stopped and
// restarted with the new configuration (spec §4.C "Config change
// semantics").
func (sm *ServiceManager) AddConfig(name string, cfg config.BackendServiceConfig) error {
	cfg.Name = name
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	sm.mu.Lock()
	_, wasStarted := sm.backends[name]
	if _, exists := sm.configs[name]; !exists {
		sm.order = append(sm.order, name)
	}
	sm.configs[name] = cfg
	sm.mu.Unlock()

	if !wasStarted {
		return nil
	}
	if err := sm.Stop(name); err != nil {
		return err
	}
	return sm.Start(context.Background(), name)
}

// RemoveConfig stops name's backend (if running) and drops its
// configuration and tools.
func (sm *ServiceManager) RemoveConfig(name string) error {
	sm.mu.Lock()
	b := sm.backends[name]
	delete(sm.backends, name)
	delete(sm.configs, name)
	sm.order = removeString(sm.order, name)
	sm.mu.Unlock()

	if b != nil {
		_ = b.Disconnect()
	}
	sm.rebuild()
	return nil
}

// Start connects the backend registered under name. It always
// (re)builds the *backend.BackendService from the currently stored
// configuration rather than reusing a prior instance: Stop never
// removes the map entry, so reusing it here would leave a backend
// whose transport closure was captured from stale command/url/headers/
// apiKey/reconnect/ping/callTimeout settings, silently ignoring
// whatever AddConfig just wrote to sm.configs (spec §4.C "Config
// change semantics" requires changed settings to actually take
// effect on the next connect, not just update the stored config).
func (sm *ServiceManager) Start(ctx context.Context, name string) error {
	sm.mu.Lock()
	cfg, ok := sm.configs[name]
	if !ok {
		sm.mu.Unlock()
		return gwerrors.New(gwerrors.ConfigInvalid, "no configuration for backend "+name)
	}
	old, hadOld := sm.backends[name]
	b := sm.newBackend(cfg)
	sm.backends[name] = b
	sm.mu.Unlock()

	if hadOld {
		_ = old.Disconnect()
	}
	return b.Connect(ctx)
}

// Stop disconnects name's backend. A no-op if it isn't running.
func (sm *ServiceManager) Stop(name string) error {
	sm.mu.RLock()
	b, ok := sm.backends[name]
	sm.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.Disconnect()
}

// StartAll starts every configured backend concurrently, in
// configuration order, returning the first error encountered (spec §5:
// ServiceManager.startAll fans out with golang.org/x/sync/errgroup).
// One backend's failure does not cancel the others' in-flight connects.
func (sm *ServiceManager) StartAll(ctx context.Context) error {
	sm.mu.RLock()
	names := append([]string(nil), sm.order...)
	sm.mu.RUnlock()

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error { return sm.Start(ctx, name) })
	}
	return g.Wait()
}

// StopAll disconnects every backend concurrently.
func (sm *ServiceManager) StopAll() error {
	sm.mu.RLock()
	names := append([]string(nil), sm.order...)
	sm.mu.RUnlock()

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error { return sm.Stop(name) })
	}
	return g.Wait()
}

// ListAllTools returns the current aggregated catalogue. Lock-free with
// respect to any concurrent rebuild: it reads a single snapshot
// pointer.
func (sm *ServiceManager) ListAllTools() []ToolDescriptor {
	sm.snapMu.RLock()
	defer sm.snapMu.RUnlock()
	out := make([]ToolDescriptor, len(sm.snapshot.descriptors))
	copy(out, sm.snapshot.descriptors)
	return out
}

// GetStatus returns every backend's current Status, in configuration
// order.
func (sm *ServiceManager) GetStatus() []backend.Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]backend.Status, 0, len(sm.order))
	for _, name := range sm.order {
		if b, ok := sm.backends[name]; ok {
			out = append(out, b.Status())
		}
	}
	return out
}

// CallTool routes an aggregated (or overlay-declared) tool name to its
// owner (spec §4.C "Routing"). A handler-mcp overlay entry is rewritten
// to the underlying backend+tool instead of being dispatched through
// the overlay.
func (sm *ServiceManager) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if t, ok := sm.overlay.Get(name); ok {
		if t.Handler == config.HandlerMCP {
			sm.mu.RLock()
			b := sm.backends[t.MCPServiceName]
			sm.mu.RUnlock()
			if b == nil {
				return nil, gwerrors.New(gwerrors.ServiceUnavailable, t.MCPServiceName+" is not running")
			}
			return b.CallTool(ctx, t.MCPToolName, args)
		}
		return sm.overlay.Call(ctx, name, args)
	}

	sm.snapMu.RLock()
	e, ok := sm.snapshot.entries[name]
	sm.snapMu.RUnlock()
	if !ok {
		return nil, gwerrors.New(gwerrors.ToolNotFound, name)
	}

	sm.mu.RLock()
	b := sm.backends[e.owner]
	sm.mu.RUnlock()
	if b == nil {
		return nil, gwerrors.New(gwerrors.ServiceUnavailable, e.owner+" is not running")
	}
	return b.CallTool(ctx, e.originalName, args)
}

// rebuild recomputes the aggregated catalogue from scratch and
// publishes RegistryChangedEvent (spec §4.C "Aggregation").
func (sm *ServiceManager) rebuild() {
	sm.mu.RLock()
	order := append([]string(nil), sm.order...)
	configs := make(map[string]config.BackendServiceConfig, len(sm.configs))
	for k, v := range sm.configs {
		configs[k] = v
	}
	backends := make(map[string]*backend.BackendService, len(sm.backends))
	for k, v := range sm.backends {
		backends[k] = v
	}
	sm.mu.RUnlock()

	reserved := make(map[string]struct{})
	entries := make(map[string]entry)
	descriptors := make([]ToolDescriptor, 0)

	for _, d := range sm.overlay.List() {
		reserved[d.Name] = struct{}{}
		entries[d.Name] = entry{isOverlay: true, originalName: d.Name}
		descriptors = append(descriptors, ToolDescriptor{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}

	for _, name := range order {
		b, ok := backends[name]
		if !ok || b.Status().State != backend.StateConnected {
			continue
		}
		cfg := configs[name]
		wire := wireName(name)

		for _, tool := range b.Tools() {
			if enabled, explicit := cfg.ToolEnable[tool.Name]; explicit && !enabled {
				continue
			}

			aggregated := wire + "__" + tool.Name
			if _, isReserved := reserved[aggregated]; isReserved {
				sm.logger.Warn("ServiceManager", "skipping %s: name reserved by a custom tool", aggregated)
				continue
			}

			final := aggregated
			if _, collide := entries[final]; collide {
				final = disambiguate(entries, aggregated)
				sm.logger.Warn("ServiceManager", "tool name collision, renamed %s to %s", aggregated, final)
			}

			entries[final] = entry{owner: name, originalName: tool.Name}
			descriptors = append(descriptors, ToolDescriptor{
				Name:        final,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
	}

	sm.snapMu.Lock()
	sm.snapshot = &registrySnapshot{descriptors: descriptors, entries: entries}
	sm.snapMu.Unlock()

	sm.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicToolRegistryChanged,
		Data:  RegistryChangedEvent{ToolCount: len(descriptors)},
	})
}

// wireName normalises a service name for use as an aggregated-name
// prefix: "-" becomes "_" so the "__" separator stays unambiguous
// (spec §5 "Tool name wire format").
func wireName(serviceName string) string {
	return strings.ReplaceAll(serviceName, "-", "_")
}

func disambiguate(entries map[string]entry, base string) string {
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if _, exists := entries[candidate]; !exists {
			return candidate
		}
	}
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
