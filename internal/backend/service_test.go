package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/internal/config"
	"mcpgateway/internal/eventbus"
	"mcpgateway/internal/gwtransport"
	"mcpgateway/internal/gwtransport/gwtransporttest"
)

func testConfig() config.BackendServiceConfig {
	cfg := config.BackendServiceConfig{
		Name:      "svc",
		Transport: config.TransportStdio,
		Command:   "ignored",
	}.WithDefaults()
	cfg.Reconnect.InitialInterval = 5 * time.Millisecond
	cfg.Reconnect.MaxInterval = 20 * time.Millisecond
	cfg.Reconnect.PerAttemptTimeout = 200 * time.Millisecond
	cfg.Reconnect.Jitter = false
	cfg.Ping.StartDelay = 2 * time.Millisecond
	cfg.Ping.Interval = 5 * time.Millisecond
	cfg.Ping.PerPingTimeout = 50 * time.Millisecond
	cfg.Ping.MaxConsecutiveFailures = 1
	return cfg
}

// fixedFactory returns a Transport-returning closure backed by a
// pre-built sequence of fakes, one per successive connect attempt.
func fixedFactory(fakes ...*gwtransporttest.Fake) func() (gwtransport.Transport, error) {
	var mu sync.Mutex
	i := 0
	return func() (gwtransport.Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		f := fakes[i]
		if i < len(fakes)-1 {
			i++
		}
		return f, nil
	}
}

func TestConnectSucceedsAndPublishesConnected(t *testing.T) {
	fake := gwtransporttest.New()
	fake.Tools = []mcp.Tool{{Name: "echo"}}

	bus := eventbus.New(nil)
	var got ConnectedEvent
	done := make(chan struct{})
	bus.Subscribe(eventbus.TopicServiceConnected, func(e eventbus.Event) {
		got = e.Data.(ConnectedEvent)
		close(done)
	})

	s := New(testConfig(), bus, nil)
	s.newTransport = fixedFactory(fake)

	err := s.Connect(context.Background())
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConnectedEvent not published")
	}

	assert.Equal(t, "svc", got.Service)
	assert.Equal(t, StateConnected, s.Status().State)
	assert.Len(t, s.Tools(), 1)

	_ = s.Disconnect()
}

func TestConnectFailureWithReconnectDisabledGoesToFailed(t *testing.T) {
	fake := gwtransporttest.New()
	fake.ConnectErr = gwtransporttest.ClassifyAsTimeout()

	bus := eventbus.New(nil)
	cfg := testConfig()
	cfg.Reconnect.Enabled = false

	s := New(cfg, bus, nil)
	s.newTransport = fixedFactory(fake)

	err := s.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateFailed, s.Status().State)
}

func TestPingFailureThresholdTriggersReconnect(t *testing.T) {
	unhealthy := gwtransporttest.New()
	unhealthy.PingErr = gwtransporttest.ClassifyAsTimeout()

	healthy := gwtransporttest.New()

	bus := eventbus.New(nil)
	var disconnects int
	var mu sync.Mutex
	bus.Subscribe(eventbus.TopicServiceDisconnected, func(eventbus.Event) {
		mu.Lock()
		disconnects++
		mu.Unlock()
	})

	s := New(testConfig(), bus, nil)
	s.newTransport = fixedFactory(unhealthy, healthy)

	require.NoError(t, s.Connect(context.Background()))

	assert.Eventually(t, func() bool {
		return s.Status().State == StateConnected && healthy.ConnectCount() == 1
	}, 2*time.Second, 5*time.Millisecond, "expected reconnect onto the healthy transport")

	mu.Lock()
	sawDisconnect := disconnects > 0
	mu.Unlock()
	assert.True(t, sawDisconnect)

	_ = s.Disconnect()
}

func TestDisconnectIsIdempotentAndStopsReconnectLoop(t *testing.T) {
	fake := gwtransporttest.New()
	fake.ConnectErr = gwtransporttest.ClassifyAsTimeout()

	bus := eventbus.New(nil)
	s := New(testConfig(), bus, nil)
	s.newTransport = fixedFactory(fake)

	_ = s.Connect(context.Background())
	assert.Equal(t, StateReconnecting, s.Status().State)

	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.Status().State)
	require.NoError(t, s.Disconnect())

	connectsAtStop := fake.ConnectCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, connectsAtStop, fake.ConnectCount(), "reconnect loop should have stopped")
}

func TestComputeBackoffExponentialNoJitter(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.InitialInterval = 1 * time.Second
	cfg.Reconnect.MaxInterval = 10 * time.Second
	cfg.Reconnect.BackoffMultiplier = 2.0
	cfg.Reconnect.Jitter = false

	s := New(cfg, eventbus.New(nil), nil)

	assert.Equal(t, 1*time.Second, s.computeBackoff(1))
	assert.Equal(t, 2*time.Second, s.computeBackoff(2))
	assert.Equal(t, 4*time.Second, s.computeBackoff(3))
	assert.Equal(t, 8*time.Second, s.computeBackoff(4))
	assert.Equal(t, 10*time.Second, s.computeBackoff(5), "clamped to MaxInterval")
}

func TestComputeBackoffLinearNoJitter(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.BackoffStrategy = config.BackoffLinear
	cfg.Reconnect.InitialInterval = 2 * time.Second
	cfg.Reconnect.MaxInterval = 100 * time.Second
	cfg.Reconnect.Jitter = false

	s := New(cfg, eventbus.New(nil), nil)

	assert.Equal(t, 2*time.Second, s.computeBackoff(1))
	assert.Equal(t, 4*time.Second, s.computeBackoff(2))
	assert.Equal(t, 6*time.Second, s.computeBackoff(3))
}

func TestComputeBackoffJitterStaysWithinBounds(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.InitialInterval = 1 * time.Second
	cfg.Reconnect.MaxInterval = 10 * time.Second
	cfg.Reconnect.BackoffMultiplier = 2.0
	cfg.Reconnect.Jitter = true

	s := New(cfg, eventbus.New(nil), nil)

	for i := 0; i < 50; i++ {
		d := s.computeBackoff(2)
		assert.GreaterOrEqual(t, d, 1*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}
