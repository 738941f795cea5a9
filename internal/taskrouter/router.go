// Package taskrouter implements the one piece of call-routing that
// sits between the ProtocolHandler and the ServiceManager: ResultCache
// dedup and one-shot consumption (spec §4.G, §9 "Task cache one-shot
// semantics"). The spec's happy-path data flow routes tools/call
// straight from the protocol handler to ServiceManager; this router
// preserves that path byte-for-byte while giving ResultCache a real
// caller. Only a Completed, unconsumed entry is served from the cache;
// an identical call issued while the first is still Pending invokes
// the backend again.
//
// Grounded on giantswarm-muster's internal/aggregator/tool_factory.go
// decorator pattern (a ServerTool wrapping another ServerTool's
// handler to add cross-cutting behavior — there, capability
// filtering; here, cache dedup) applied to ServiceManager.CallTool
// instead of a single mcp-go ServerTool.
package taskrouter

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/metrics"
	"mcpgateway/internal/registry"
	"mcpgateway/internal/resultcache"
	"mcpgateway/pkg/logging"
)

// DefaultResultTTL bounds how long a completed result stays available
// for a repeated identical call before it falls out of the cache on
// its own TTL (independent of the Consumed-age eviction rule).
const DefaultResultTTL = 5 * time.Minute

// ServiceRouter is the subset of *registry.ServiceManager this package
// depends on.
type ServiceRouter interface {
	ListAllTools() []registry.ToolDescriptor
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Router decorates a ServiceRouter with ResultCache-backed dedup and
// task tracking, and satisfies internal/protocol.ToolRouter.
type Router struct {
	sm     ServiceRouter
	cache  *resultcache.Cache
	logger logging.Logger
}

// New builds a Router. A nil logger falls back to logging.NopLogger{}.
func New(sm ServiceRouter, cache *resultcache.Cache, logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Router{sm: sm, cache: cache, logger: logger}
}

// ListAllTools delegates unchanged.
func (r *Router) ListAllTools() []registry.ToolDescriptor {
	return r.sm.ListAllTools()
}

// CallTool returns a cached, unconsumed Completed result verbatim if
// one exists for (name, args); otherwise it creates a Task, performs
// the call, records the outcome, and returns the fresh result. Either
// path marks the cache entry Consumed before returning, so the next
// identical call forces a fresh invocation (spec §4.G one-shot
// semantics, §8 invariant 5).
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	key := resultcache.Key(name, args)

	if r.cache.IsAvailable(key) {
		entry, _ := r.cache.Get(key)
		result, _ := entry.Result.(*mcp.CallToolResult)
		_ = r.cache.MarkConsumed(key)
		return result, nil
	}

	task := r.cache.CreateTask(name, args)
	r.cache.Put(key, resultcache.StatusPending, nil, "", DefaultResultTTL, task.TaskID)

	start := time.Now()
	result, err := r.sm.CallTool(ctx, name, args)
	elapsed := time.Since(start)

	if err != nil {
		errMsg := err.Error()
		_ = r.cache.UpdateTaskStatus(task.TaskID, resultcache.StatusFailed, nil, errMsg)
		r.cache.Put(key, resultcache.StatusFailed, nil, errMsg, DefaultResultTTL, task.TaskID)
		metrics.ObserveToolCall(name, "failed", elapsed)
		if gwerrors.KindOf(err) == gwerrors.ToolNotFound {
			_ = r.cache.MarkConsumed(key)
		}
		return nil, err
	}

	_ = r.cache.UpdateTaskStatus(task.TaskID, resultcache.StatusCompleted, result, "")
	r.cache.Put(key, resultcache.StatusCompleted, result, "", DefaultResultTTL, task.TaskID)
	metrics.ObserveToolCall(name, "completed", elapsed)
	_ = r.cache.MarkConsumed(key)
	return result, nil
}
