package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/internal/eventbus"
)

// fakeDispatcher lets tests control exactly what protocol.Handler would
// have returned, without depending on internal/protocol.
type fakeDispatcher struct {
	fn func(ctx context.Context, raw []byte) []byte
}

func (f *fakeDispatcher) Handle(ctx context.Context, raw []byte) []byte {
	return f.fn(ctx, raw)
}

func newEchoWSServer(t *testing.T, onMessage func(data []byte) []byte) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "test server closing")
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			reply := onMessage(data)
			if reply == nil {
				continue
			}
			if err := conn.Write(r.Context(), websocket.MessageText, reply); err != nil {
				return
			}
		}
	}))
	wsURL := "ws" + srv.URL[len("http"):]
	return srv, wsURL
}

func TestConnectAndDisconnectLifecycle(t *testing.T) {
	srv, wsURL := newEchoWSServer(t, func(data []byte) []byte { return nil })
	defer srv.Close()

	bus := eventbus.New(nil)
	var events []EndpointStatusChangedEvent
	bus.Subscribe(eventbus.TopicEndpointStatusChanged, func(e eventbus.Event) {
		events = append(events, e.Data.(EndpointStatusChangedEvent))
	})

	c := New(wsURL, "", &fakeDispatcher{fn: func(ctx context.Context, raw []byte) []byte { return nil }}, bus, nil)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())

	require.NoError(t, c.Disconnect())
	assert.Equal(t, StateDisconnected, c.State())

	require.Len(t, events, 2)
	assert.True(t, events[0].Connected)
	assert.False(t, events[1].Connected)
}

func TestDispatchRoutesNonToolCallUnchanged(t *testing.T) {
	reply := []byte(`{"jsonrpc":"2.0","id":1,"result":{"status":"ok"}}`)
	srv, wsURL := newEchoWSServer(t, func(data []byte) []byte { return nil })
	defer srv.Close()

	c := New(wsURL, "", &fakeDispatcher{fn: func(ctx context.Context, raw []byte) []byte { return reply }}, nil, nil)
	out := c.dispatch([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	assert.Equal(t, reply, out)
}

func TestDispatchReclassifiesGenericToolExecutionError(t *testing.T) {
	toolErr := []byte(`{"jsonrpc":"2.0","id":5,"result":{"content":[{"type":"text","text":"boom: downstream blew up"}],"isError":true}}`)
	c := New("", "", &fakeDispatcher{fn: func(ctx context.Context, raw []byte) []byte { return toolErr }}, nil, nil)

	out := c.dispatch([]byte(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"x"}}`))

	var resp genericResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeToolExecutionError, resp.Error.Code)
}

func TestDispatchReclassifiesToolNotFoundKeyword(t *testing.T) {
	toolErr := []byte(`{"jsonrpc":"2.0","id":5,"result":{"content":[{"type":"text","text":"tool not found: frobnicate"}],"isError":true}}`)
	c := New("", "", &fakeDispatcher{fn: func(ctx context.Context, raw []byte) []byte { return toolErr }}, nil, nil)

	out := c.dispatch([]byte(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"x"}}`))

	var resp genericResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeToolNotFound, resp.Error.Code)
}

func TestDispatchReclassifiesServiceUnavailableKeyword(t *testing.T) {
	toolErr := []byte(`{"jsonrpc":"2.0","id":5,"result":{"content":[{"type":"text","text":"service svc is unavailable"}],"isError":true}}`)
	c := New("", "", &fakeDispatcher{fn: func(ctx context.Context, raw []byte) []byte { return toolErr }}, nil, nil)

	out := c.dispatch([]byte(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"x"}}`))

	var resp genericResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeServiceUnavailable, resp.Error.Code)
}

func TestDispatchTimeoutDeadlineProducesTimeoutCode(t *testing.T) {
	toolErr := []byte(`{"jsonrpc":"2.0","id":5,"result":{"content":[{"type":"text","text":"still running"}],"isError":true}}`)
	slow := &fakeDispatcher{fn: func(ctx context.Context, raw []byte) []byte {
		<-ctx.Done()
		return toolErr
	}}
	c := New("", "", slow, nil, nil)
	c.callTimeout = 10 * time.Millisecond

	out := c.dispatch([]byte(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"x"}}`))

	var resp genericResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTimeout, resp.Error.Code)
}

func TestDispatchLeavesAlreadyCodedProtocolErrorsUnchanged(t *testing.T) {
	protoErr := []byte(`{"jsonrpc":"2.0","id":5,"error":{"code":-32601,"message":"tool not found: x"}}`)
	c := New("", "", &fakeDispatcher{fn: func(ctx context.Context, raw []byte) []byte { return protoErr }}, nil, nil)

	out := c.dispatch([]byte(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"x"}}`))
	assert.Equal(t, protoErr, out)
}

func TestConnectRejectsConcurrentConnect(t *testing.T) {
	srv, wsURL := newEchoWSServer(t, func(data []byte) []byte { return nil })
	defer srv.Close()

	c := New(wsURL, "", &fakeDispatcher{fn: func(ctx context.Context, raw []byte) []byte { return nil }}, nil, nil)
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.Connect(context.Background())
	assert.Error(t, err)
}
