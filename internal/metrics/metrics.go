// Package metrics exposes the gateway's /metrics Prometheus surface
// (SPEC_FULL.md §6, §11). It never reaches into any core component
// directly: it subscribes to internal/eventbus the same way any other
// non-core collaborator would, so the core stays ignorant of whether
// anything is scraping it.
//
// Grounded on step-chen-agent-sets's internal/metrics package
// (promauto-registered CounterVec/HistogramVec/GaugeVec metrics served
// via promhttp.Handler in its cmd/server/main.go), adapted from that
// repo's PR/webhook domain to this gateway's backend/tool-call domain.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mcpgateway/internal/backend"
	"mcpgateway/internal/eventbus"
	"mcpgateway/internal/registry"
	"mcpgateway/internal/resultcache"
	"mcpgateway/internal/upstream"
)

var (
	serviceConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpgateway_backend_connections_total",
		Help: "Backend connect/disconnect transitions, labeled by service and outcome.",
	}, []string{"service", "event"}) // event: connected, disconnected, connection_failed

	registeredTools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_registered_tools",
		Help: "Number of tools currently published by the aggregated registry snapshot.",
	})

	endpointConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_upstream_endpoint_connected",
		Help: "1 if the outbound upstream WebSocket is connected, 0 otherwise.",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_result_cache_entries",
		Help: "Number of live ResultCache entries after the last eviction tick.",
	})

	cacheTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcpgateway_result_cache_tasks",
		Help: "Number of tracked Task records after the last eviction tick.",
	})

	cacheEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcpgateway_result_cache_evicted_total",
		Help: "Entries removed by ResultCache eviction ticks over time.",
	})

	toolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcpgateway_tool_call_duration_seconds",
		Help:    "Observed wall-clock duration of routed tools/call invocations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool", "status"}) // status: completed, failed
)

// ObserveToolCall records one tools/call's duration and outcome. Called
// by the task-caching router (internal/taskrouter) around every
// ServiceManager.CallTool.
func ObserveToolCall(tool string, status string, d time.Duration) {
	toolCallDuration.WithLabelValues(tool, status).Observe(d.Seconds())
}

// Subscribe wires every gauge/counter above to the event bus. Call once
// at startup after constructing the Bus and before StartAll, so no
// transition is missed.
func Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.TopicServiceConnected, func(e eventbus.Event) {
		if ev, ok := e.Data.(backend.ConnectedEvent); ok {
			serviceConnections.WithLabelValues(ev.Service, "connected").Inc()
		}
	})
	bus.Subscribe(eventbus.TopicServiceDisconnected, func(e eventbus.Event) {
		if ev, ok := e.Data.(backend.DisconnectedEvent); ok {
			serviceConnections.WithLabelValues(ev.Service, "disconnected").Inc()
		}
	})
	bus.Subscribe(eventbus.TopicServiceConnectionFail, func(e eventbus.Event) {
		if ev, ok := e.Data.(backend.ConnectionFailedEvent); ok {
			serviceConnections.WithLabelValues(ev.Service, "connection_failed").Inc()
		}
	})
	bus.Subscribe(eventbus.TopicToolRegistryChanged, func(e eventbus.Event) {
		if ev, ok := e.Data.(registry.RegistryChangedEvent); ok {
			registeredTools.Set(float64(ev.ToolCount))
		}
	})
	bus.Subscribe(eventbus.TopicEndpointStatusChanged, func(e eventbus.Event) {
		if ev, ok := e.Data.(upstream.EndpointStatusChangedEvent); ok {
			if ev.Connected {
				endpointConnected.Set(1)
			} else {
				endpointConnected.Set(0)
			}
		}
	})
	bus.Subscribe(eventbus.TopicCacheStats, func(e eventbus.Event) {
		if ev, ok := e.Data.(resultcache.CacheStatsEvent); ok {
			cacheEntries.Set(float64(ev.EntryCount))
			cacheTasks.Set(float64(ev.TaskCount))
			if ev.RemovedThisTick > 0 {
				cacheEvicted.Add(float64(ev.RemovedThisTick))
			}
		}
	})
}
