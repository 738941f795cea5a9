// Package app wires every core component into one runnable process
// (SPEC_FULL.md §10 "CLI"). It is the gateway's composition root: the
// only place that knows about every package under internal/.
//
// Grounded on giantswarm-muster's internal/app.Application /
// InitializeServices two-phase bootstrap (construct dependencies in
// order, then Run blocks until shutdown), scaled down from muster's
// ServiceClass/workflow/orchestrator object graph to this gateway's
// flatter Bus -> Overlay/ServiceManager -> Cache -> Router -> Handler
// -> {HTTP, stdio, UpstreamClient} graph.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"mcpgateway/internal/config"
	"mcpgateway/internal/eventbus"
	"mcpgateway/internal/gatewayserver"
	"mcpgateway/internal/metrics"
	"mcpgateway/internal/overlay"
	"mcpgateway/internal/protocol"
	"mcpgateway/internal/registry"
	"mcpgateway/internal/resultcache"
	"mcpgateway/internal/taskrouter"
	"mcpgateway/internal/upstream"
	"mcpgateway/pkg/logging"
)

// shutdownTimeout bounds how long graceful shutdown waits for the HTTP
// server to drain in-flight requests.
const shutdownTimeout = 10 * time.Second

// Config selects the bootstrap behaviour of Application, independent
// of the gateway's own domain Config (loaded separately from disk).
type Config struct {
	ConfigPath string
	Debug      bool
}

// Application owns every long-lived component and its shutdown order.
type Application struct {
	cfg    *config.Config
	logger logging.Logger

	bus      *eventbus.Bus
	overlay  *overlay.Overlay
	registry *registry.ServiceManager
	cache    *resultcache.Cache
	handler  *protocol.Handler
	upClient *upstream.Client
	http     *gatewayserver.HTTPServer
	stdio    *gatewayserver.StdioServer
}

// New loads cfg.ConfigPath and constructs every component, without
// starting anything that performs I/O (no connects, no listeners).
// Call Run to start the process.
func New(cfg Config) (*Application, error) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := logging.NewSlogLogger(level, os.Stderr)

	gwCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading gateway config: %w", err)
	}

	bus := eventbus.New(logger)
	metrics.Subscribe(bus)

	ov := overlay.New(logger)
	sm := registry.New(ov, bus, logger)
	if err := sm.LoadConfig(gwCfg); err != nil {
		return nil, fmt.Errorf("loading backend configs: %w", err)
	}

	cache := resultcache.New(bus, logger)
	router := taskrouter.New(sm, cache, logger)
	handler := protocol.New(router, gwCfg.ServerName, gwCfg.ServerVersion, !cfg.Debug, logger)

	a := &Application{
		cfg:      gwCfg,
		logger:   logger,
		bus:      bus,
		overlay:  ov,
		registry: sm,
		cache:    cache,
		handler:  handler,
		http:     gatewayserver.NewHTTPServer(gwCfg.HTTPAddr, handler, logger),
	}
	if gwCfg.EnableStdio {
		a.stdio = gatewayserver.NewStdioServer(handler, logger)
	}
	if gwCfg.EndpointURL != "" {
		a.upClient = upstream.New(gwCfg.EndpointURL, gwCfg.UpstreamBearerToken, handler, bus, logger)
	}
	return a, nil
}

// Run starts every backend, the upstream client (if configured), and
// the inbound surfaces, then blocks until ctx is canceled. On return,
// every component has been asked to stop in reverse dependency order.
func (a *Application) Run(ctx context.Context) error {
	if err := a.registry.StartAll(ctx); err != nil {
		a.logger.Warn("Application", "one or more backends failed to start: %v", err)
	}

	if a.upClient != nil {
		if err := a.upClient.Connect(ctx); err != nil {
			a.logger.Warn("Application", "upstream endpoint connect failed: %v", err)
		}
	}

	errCh := make(chan error, 2)
	go func() { errCh <- a.http.ListenAndServe() }()
	if a.stdio != nil {
		go func() { errCh <- a.stdio.Serve(ctx) }()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			a.logger.Error("Application", err, "a server surface exited unexpectedly")
		}
	}

	return a.Shutdown()
}

// Shutdown stops every component in reverse dependency order. Safe to
// call even if some components were never started.
func (a *Application) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("Application", "http shutdown: %v", err)
	}
	if a.upClient != nil {
		if err := a.upClient.Disconnect(); err != nil {
			a.logger.Warn("Application", "upstream disconnect: %v", err)
		}
	}
	if err := a.registry.StopAll(); err != nil {
		a.logger.Warn("Application", "backend shutdown: %v", err)
	}
	a.cache.Stop()
	return nil
}

// Probe connects every configured backend, captures a status snapshot,
// then disconnects again. It exists for the `status` CLI subcommand,
// which reports a point-in-time view of the fleet without leaving a
// long-running process behind (the gateway is normally queried this
// way out-of-process; SPEC_FULL.md's CLI is deliberately this thin
// rather than a full admin API).
func (a *Application) Probe(ctx context.Context) ([]StatusRow, error) {
	if err := a.registry.StartAll(ctx); err != nil {
		a.logger.Warn("Application", "probe: one or more backends failed to connect: %v", err)
	}
	rows := a.Status()
	if err := a.registry.StopAll(); err != nil {
		a.logger.Warn("Application", "probe: backend shutdown: %v", err)
	}
	a.cache.Stop()
	return rows, nil
}

// Status returns every backend's current Status, for the `status` CLI
// command.
func (a *Application) Status() []StatusRow {
	rows := make([]StatusRow, 0)
	for _, s := range a.registry.GetStatus() {
		rows = append(rows, StatusRow{
			Name:              s.Name,
			State:             string(s.State),
			ToolCount:         s.ToolCount,
			ReconnectAttempts: s.ReconnectAttempts,
			LastError:         errString(s.LastError),
		})
	}
	return rows
}

// StatusRow is a flattened, display-ready view of one backend's Status.
type StatusRow struct {
	Name              string
	State             string
	ToolCount         int
	ReconnectAttempts int
	LastError         string
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
