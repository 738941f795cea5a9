// Package backend implements BackendService (spec §4.B): the
// per-backend connection state machine, reconnect-with-backoff loop,
// and ping-based liveness probe. Grounded on giantswarm-muster's
// internal/services/mcpserver.Service and internal/services.BaseService
// state/callback idiom, generalized from a single ServiceState/Health
// pair into the richer Disconnected/Connecting/Connected/Disconnecting/
// Reconnecting/Failed machine this spec requires.
package backend

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpgateway/internal/config"
	"mcpgateway/internal/eventbus"
	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/gwtransport"
	"mcpgateway/pkg/logging"
)

// BackendService owns one federated backend's Transport and its
// connection lifecycle. All state transitions happen under mu so two
// triggers (e.g. a failed ping and a transport-reported close) can
// never race the machine into an inconsistent state.
type BackendService struct {
	name         string
	cfg          config.BackendServiceConfig
	newTransport func() (gwtransport.Transport, error)
	bus          *eventbus.Bus
	logger       logging.Logger

	mu                sync.Mutex
	state             State
	transport         gwtransport.Transport
	tools             []mcp.Tool
	lastError         error
	connectedAt       time.Time
	reconnectAttempts int
	stopping          bool
	stopCh            chan struct{}
	cycleCancel       context.CancelFunc

	wg sync.WaitGroup
}

// New builds a BackendService for cfg. A nil logger falls back to
// logging.NopLogger{}.
func New(cfg config.BackendServiceConfig, bus *eventbus.Bus, logger logging.Logger) *BackendService {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	cfg = cfg.WithDefaults()
	s := &BackendService{
		name:   cfg.Name,
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		state:  StateDisconnected,
		stopCh: make(chan struct{}),
	}
	s.newTransport = func() (gwtransport.Transport, error) {
		return gwtransport.New(cfg)
	}
	return s
}

// Name returns the backend's configured name.
func (s *BackendService) Name() string { return s.name }

// SetTransportFactory overrides how attemptConnect obtains a Transport.
// Exposed so callers (ServiceManager, tests) can substitute a fake or
// pre-wired Transport instead of the real gwtransport.New(cfg). Must be
// called before Connect.
func (s *BackendService) SetTransportFactory(f func() (gwtransport.Transport, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newTransport = f
}

// Status returns a snapshot safe to read concurrently with any other
// BackendService method.
func (s *BackendService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Name:              s.name,
		State:             s.state,
		LastError:         s.lastError,
		ConnectedAt:       s.connectedAt,
		ReconnectAttempts: s.reconnectAttempts,
		ToolCount:         len(s.tools),
	}
}

// Tools returns the tool list discovered at the last successful
// connection. Empty (zero length, non-nil) while not connected.
func (s *BackendService) Tools() []mcp.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mcp.Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// Connect performs the initial handshake and tool discovery. If it
// fails and reconnects are enabled, Connect still returns the failure
// to the caller but leaves a reconnect loop running in the background
// (spec §4.B, §5: "service:connected is published before tools become
// discoverable").
func (s *BackendService) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.mu.Unlock()
		return gwerrors.New(gwerrors.AlreadyConnecting, s.name+" is already connecting")
	}
	s.stopping = false
	s.stopCh = make(chan struct{})
	s.state = StateConnecting
	s.mu.Unlock()

	if err := s.attemptConnect(ctx); err != nil {
		s.mu.Lock()
		s.lastError = err
		s.reconnectAttempts = 0
		reconnect := s.cfg.Reconnect.Enabled && !s.stopping
		if reconnect {
			s.state = StateReconnecting
		} else {
			s.state = StateFailed
		}
		s.mu.Unlock()

		s.bus.Publish(eventbus.Event{
			Topic: eventbus.TopicServiceConnectionFail,
			Data:  ConnectionFailedEvent{Service: s.name, Err: err},
		})

		if reconnect {
			s.startReconnectLoop()
		}
		return err
	}
	return nil
}

// Disconnect tears the backend down deliberately: no reconnect attempt
// follows. Safe to call from any state, including mid-reconnect.
func (s *BackendService) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.state = StateDisconnecting
	tr := s.transport
	cancel := s.cycleCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		_ = tr.Close()
	}

	s.wg.Wait()

	s.mu.Lock()
	alreadyDisconnected := s.state == StateDisconnected
	s.transport = nil
	s.tools = nil
	s.cycleCancel = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if !alreadyDisconnected {
		s.bus.Publish(eventbus.Event{
			Topic: eventbus.TopicServiceDisconnected,
			Data:  DisconnectedEvent{Service: s.name, Reason: "explicit disconnect"},
		})
	}
	return nil
}

// CallTool forwards name/args to the backend's transport, applying the
// configured CallTimeout when ctx carries no deadline of its own.
func (s *BackendService) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	tr := s.transport
	state := s.state
	s.mu.Unlock()

	if state != StateConnected || tr == nil {
		return nil, gwerrors.New(gwerrors.ServiceUnavailable, s.name+" is not connected")
	}

	callCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}

	return tr.CallTool(callCtx, name, args)
}

// attemptConnect runs one connect+handshake+discovery attempt. On
// success it installs the new transport, flips to Connected, and
// starts the ping/liveness supervisor for that connection cycle.
func (s *BackendService) attemptConnect(ctx context.Context) error {
	tr, err := s.newTransport()
	if err != nil {
		return err
	}

	attemptCtx := ctx
	if s.cfg.Reconnect.PerAttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.Reconnect.PerAttemptTimeout)
		defer cancel()
	}

	if _, err := tr.Connect(attemptCtx); err != nil {
		_ = tr.Close()
		return err
	}

	tools, err := tr.ListTools(attemptCtx)
	if err != nil {
		_ = tr.Close()
		return err
	}

	cycleCtx, cycleCancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.transport = tr
	s.tools = tools
	s.state = StateConnected
	s.connectedAt = time.Now()
	s.lastError = nil
	s.reconnectAttempts = 0
	s.cycleCancel = cycleCancel
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicServiceConnected,
		Data:  ConnectedEvent{Service: s.name, Tools: tools},
	})

	s.wg.Add(1)
	go s.superviseCycle(cycleCtx, tr)

	return nil
}

// superviseCycle watches one connection cycle: it pings on an interval
// (spec §4.B ping policy) and reacts the moment the transport reports
// itself closed, whichever happens first. Either path funnels into
// loseConnection so the transition out of Connected happens exactly
// once per cycle.
func (s *BackendService) superviseCycle(ctx context.Context, tr gwtransport.Transport) {
	defer s.wg.Done()

	var tickCh <-chan time.Time
	if s.cfg.Ping.Enabled {
		select {
		case <-time.After(s.cfg.Ping.StartDelay):
		case <-ctx.Done():
			return
		case <-tr.Closed():
			s.loseConnection(tr, gwerrors.New(gwerrors.TransportError, "transport closed before ping start"))
			return
		}
		ticker := time.NewTicker(s.cfg.Ping.Interval)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return

		case <-tr.Closed():
			s.loseConnection(tr, gwerrors.New(gwerrors.TransportError, "transport closed"))
			return

		case <-tickCh:
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.Ping.PerPingTimeout)
			err := tr.Ping(pingCtx)
			cancel()
			if err != nil {
				consecutiveFailures++
				s.logger.Warn("BackendService", "%s ping failed (%d/%d): %v",
					s.name, consecutiveFailures, s.cfg.Ping.MaxConsecutiveFailures, err)
				if consecutiveFailures >= s.cfg.Ping.MaxConsecutiveFailures {
					s.loseConnection(tr, gwerrors.Wrap(gwerrors.TransportError, "ping threshold exceeded", err))
					return
				}
			} else {
				consecutiveFailures = 0
			}
		}
	}
}

// loseConnection transitions a Connected backend out of that state,
// either to Reconnecting (and kicks off the reconnect loop) or to
// Disconnected if Disconnect was already requested. A stale cycle
// (already superseded by a fresher attemptConnect) is a no-op.
func (s *BackendService) loseConnection(tr gwtransport.Transport, cause error) {
	_ = tr.Close()

	s.mu.Lock()
	if s.transport != tr {
		s.mu.Unlock()
		return
	}
	s.transport = nil
	s.tools = nil
	s.lastError = cause
	stopping := s.stopping
	if stopping {
		s.state = StateDisconnected
	} else {
		s.state = StateReconnecting
	}
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicServiceDisconnected,
		Data:  DisconnectedEvent{Service: s.name, Reason: cause.Error()},
	})

	if !stopping && s.cfg.Reconnect.Enabled {
		s.startReconnectLoop()
	}
}

// startReconnectLoop retries attemptConnect with backoff until it
// succeeds, MaxAttempts is exhausted (Failed), or Disconnect aborts it.
func (s *BackendService) startReconnectLoop() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := context.Background()

		for attempt := 1; ; attempt++ {
			s.mu.Lock()
			if s.stopping {
				s.mu.Unlock()
				return
			}
			maxAttempts := s.cfg.Reconnect.MaxAttempts
			abort := s.stopCh
			s.mu.Unlock()

			if maxAttempts > 0 && attempt > maxAttempts {
				s.mu.Lock()
				s.state = StateFailed
				s.mu.Unlock()
				return
			}

			select {
			case <-time.After(s.computeBackoff(attempt)):
			case <-abort:
				return
			}

			s.mu.Lock()
			if s.stopping {
				s.mu.Unlock()
				return
			}
			s.reconnectAttempts = attempt
			s.mu.Unlock()

			err := s.attemptConnect(ctx)
			if err == nil {
				return
			}

			s.mu.Lock()
			s.lastError = err
			s.mu.Unlock()
			s.bus.Publish(eventbus.Event{
				Topic: eventbus.TopicServiceConnectionFail,
				Data:  ConnectionFailedEvent{Service: s.name, Err: err},
			})
		}
	}()
}

// computeBackoff implements the exponential and linear delay formulas
// from spec §4.B, applying jitter as a uniform draw from [0.5x, 1.5x)
// of the computed base when enabled.
func (s *BackendService) computeBackoff(attempt int) time.Duration {
	p := s.cfg.Reconnect

	var base time.Duration
	switch p.BackoffStrategy {
	case config.BackoffLinear:
		base = p.InitialInterval + time.Duration(attempt-1)*p.InitialInterval
	default:
		mult := p.BackoffMultiplier
		if mult <= 0 {
			mult = 2.0
		}
		base = time.Duration(float64(p.InitialInterval) * math.Pow(mult, float64(attempt-1)))
	}
	if p.MaxInterval > 0 && base > p.MaxInterval {
		base = p.MaxInterval
	}
	if !p.Jitter {
		return base
	}

	lo := float64(base) * 0.5
	hi := float64(base) * 1.5
	return time.Duration(lo + rand.Float64()*(hi-lo))
}
