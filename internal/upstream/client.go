// Package upstream implements UpstreamClient (spec §4.F): a persistent
// outbound WebSocket to a configured remote endpoint. The gateway is
// the WebSocket client; the remote side is the JSON-RPC caller, so
// every inbound frame is dispatched the same way any other inbound
// transport is (through internal/protocol.Handler), with an
// additional tool-call deadline and error-code reclassification layer
// specific to this surface's contract with the remote consumer.
//
// Grounded on MrWong99-glyphoxa's Deepgram streaming client
// (internal/provider/stt/deepgram): github.com/coder/websocket
// Dial/Write/Read/Close usage, a dedicated write goroutine fed by a
// channel, and a done-channel-gated shutdown — adapted here from
// one-way audio framing to bidirectional JSON-RPC framing.
package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"mcpgateway/internal/eventbus"
	"mcpgateway/internal/gwerrors"
	"mcpgateway/pkg/logging"
)

// State is the UpstreamClient's own connection state (spec §4.F is a
// subset of BackendService's machine: no reconnect loop is specified,
// so this is deliberately simpler).
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnecting   State = "Connecting"
	StateConnected    State = "Connected"
)

// JSON-RPC error codes specific to the tool-call contract this surface
// exposes to the remote consumer (spec §4.F table).
const (
	CodeInvalidParams      = -32602
	CodeToolNotFound       = -32601
	CodeToolExecutionError = -32000
	CodeServiceUnavailable = -32001
	CodeTimeout            = -32002
)

const handshakeTimeout = 10 * time.Second

// DefaultCallTimeout is the per-tools/call deadline enforced on this
// surface when the inbound request carries none of its own (spec
// §4.F).
const DefaultCallTimeout = 30 * time.Second

// Dispatcher is the subset of protocol.Handler UpstreamClient depends
// on, kept narrow so tests can substitute a fake.
type Dispatcher interface {
	Handle(ctx context.Context, raw []byte) []byte
}

// Client is a single persistent outbound WebSocket connection. Safe
// for concurrent use; Connect enforces at most one connect attempt in
// flight.
type Client struct {
	endpointURL string
	bearerToken string
	dispatcher  Dispatcher
	callTimeout time.Duration
	bus         *eventbus.Bus
	logger      logging.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	writeCh    chan []byte
	stopCh     chan struct{}
	dialCancel context.CancelFunc

	wg sync.WaitGroup
}

// New builds a Client bound to endpointURL. bearerToken, when
// non-empty, is sent as an "Authorization: Bearer <token>" header
// during the WebSocket handshake (spec Non-goals: bearer-token auth
// only).
func New(endpointURL, bearerToken string, dispatcher Dispatcher, bus *eventbus.Bus, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Client{
		endpointURL: endpointURL,
		bearerToken: bearerToken,
		dispatcher:  dispatcher,
		callTimeout: DefaultCallTimeout,
		bus:         bus,
		logger:      logger,
		state:       StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the endpoint with a 10 s handshake timeout. Idempotent
// while already Connected; returns AlreadyConnecting if a connect is
// already in flight (spec §4.F "enforce one concurrent connect").
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return gwerrors.New(gwerrors.AlreadyConnecting, "endpoint connect already in flight")
	}
	c.state = StateConnecting
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	c.dialCancel = cancel
	c.mu.Unlock()
	defer cancel()

	var header http.Header
	if c.bearerToken != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.bearerToken}}
	}

	conn, _, err := websocket.Dial(dialCtx, c.endpointURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.dialCancel = nil
		c.mu.Unlock()
		c.publishStatus(false, "", err)
		return gwerrors.Wrap(gwerrors.TransportError, "endpoint dial failed", err)
	}

	conn.SetReadLimit(1 << 20) // the 1 MiB inbound message limit

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.dialCancel = nil
	c.writeCh = make(chan []byte, 32)
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	c.publishStatus(true, "", nil)
	return nil
}

// Disconnect closes the connection cleanly: close code 1000 ("Cleaning
// up connection") when Connected, force-termination when Connecting
// (spec §4.F). A no-op when already Disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	state := c.state
	conn := c.conn
	stopCh := c.stopCh
	dialCancel := c.dialCancel
	c.mu.Unlock()

	switch state {
	case StateDisconnected:
		return nil
	case StateConnecting:
		if dialCancel != nil {
			dialCancel()
		}
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.publishStatus(false, "connect aborted", nil)
		return nil
	}

	if stopCh != nil {
		close(stopCh)
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "Cleaning up connection")
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateDisconnected
	c.conn = nil
	c.mu.Unlock()

	c.publishStatus(false, "Cleaning up connection", nil)
	return nil
}

func (c *Client) publishStatus(connected bool, reason string, err error) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicEndpointStatusChanged,
		Data:  EndpointStatusChangedEvent{Connected: connected, Reason: reason, Err: err},
	})
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	conn := c.conn
	stopCh := c.stopCh
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			select {
			case <-stopCh:
			default:
				c.logger.Warn("UpstreamClient", "read failed, losing connection: %v", err)
				go c.loseConnection()
			}
			return
		}

		resp := c.dispatch(data)
		if resp == nil {
			continue
		}
		select {
		case c.writeCh <- resp:
		case <-stopCh:
			return
		}
	}
}

// loseConnection handles an unsolicited read failure (the remote
// closed the socket, or the network dropped) the same way an explicit
// Disconnect would, without double-closing stopCh.
func (c *Client) loseConnection() {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	stopCh := c.stopCh
	c.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	c.publishStatus(false, "connection lost", nil)
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	conn := c.conn
	stopCh := c.stopCh
	for {
		select {
		case msg := <-c.writeCh:
			if err := conn.Write(context.Background(), websocket.MessageText, msg); err != nil {
				c.logger.Warn("UpstreamClient", "write failed: %v", err)
				return
			}
		case <-stopCh:
			return
		}
	}
}

// dispatch routes one inbound frame through the Dispatcher, applying
// the per-tools/call deadline and the tool-call error reclassification
// contract (spec §4.F) when the frame is a tools/call request.
func (c *Client) dispatch(raw []byte) []byte {
	method := peekMethod(raw)

	ctx := context.Background()
	var cancel context.CancelFunc
	if method == "tools/call" {
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	resp := c.dispatcher.Handle(ctx, raw)
	if resp == nil {
		return nil
	}
	if method != "tools/call" {
		return resp
	}

	return reclassifyToolCallResponse(resp, ctx.Err() == context.DeadlineExceeded)
}

func peekMethod(raw []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	var method string
	if v, ok := fields["method"]; ok {
		_ = json.Unmarshal(v, &method)
	}
	return method
}

// genericResponse mirrors protocol.Response loosely enough to
// re-marshal without importing internal/protocol's concrete type,
// keeping this package decoupled from ProtocolHandler's internals.
type genericResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *genericError   `json:"error,omitempty"`
}

type genericError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallResult struct {
	Content []json.RawMessage `json:"content"`
	IsError bool               `json:"isError"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// reclassifyToolCallResponse rewrites a tools/call response that
// ProtocolHandler already reduced to `{content, isError: true}` into a
// top-level JSON-RPC error carrying one of this surface's specific
// codes (spec §4.F "Tool-call error code contract"). Responses that
// are already a top-level protocol error (ToolNotFound/InvalidParams,
// already coded -32601/-32602 by ProtocolHandler) or a successful
// result pass through unchanged.
func reclassifyToolCallResponse(raw []byte, deadlineExceeded bool) []byte {
	var resp genericResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return raw
	}
	if resp.Error != nil {
		return raw
	}

	var result toolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return raw
	}
	if !result.IsError {
		return raw
	}

	message := joinTextContent(result.Content)

	code := CodeToolExecutionError
	switch {
	case deadlineExceeded || containsTimeoutKeyword(message):
		code = CodeTimeout
	case strings.Contains(message, "tool not found"):
		code = CodeToolNotFound
	case strings.Contains(message, "service") && strings.Contains(message, "unavailable"):
		code = CodeServiceUnavailable
	}

	resp.Error = &genericError{Code: code, Message: message}
	resp.Result = nil
	out, err := json.Marshal(resp)
	if err != nil {
		return raw
	}
	return out
}

func joinTextContent(content []json.RawMessage) string {
	var parts []string
	for _, c := range content {
		var tc textContent
		if err := json.Unmarshal(c, &tc); err == nil && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, " ")
}

// containsTimeoutKeyword implements the stable keyword this gateway
// commits to for timeout classification (spec §9 Open Questions:
// "the indicators are stable keywords decided at handshake").
func containsTimeoutKeyword(message string) bool {
	return strings.Contains(message, "context deadline exceeded") || strings.Contains(message, "timeout")
}
