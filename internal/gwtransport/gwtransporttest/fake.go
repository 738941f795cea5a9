// Package gwtransporttest provides an in-process fake implementing
// gwtransport.Transport, so BackendService's state machine and
// reconnect/ping logic can be exercised deterministically without a
// real child process or network connection.
package gwtransporttest

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/gwtransport"
)

// Fake is a controllable, in-memory Transport double.
type Fake struct {
	mu sync.Mutex

	Tools []mcp.Tool

	ConnectErr error
	PingErr    error
	CallErr    error
	CallResult *mcp.CallToolResult

	connectCount int
	pingCount    int
	closed       bool
	closedCh     chan struct{}
}

// New creates a Fake transport that returns successfully by default.
func New() *Fake {
	return &Fake{closedCh: make(chan struct{})}
}

func (f *Fake) Connect(ctx context.Context) (*mcp.InitializeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCount++
	if f.ConnectErr != nil {
		return nil, f.ConnectErr
	}
	return &mcp.InitializeResult{}, nil
}

func (f *Fake) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Tools, nil
}

func (f *Fake) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CallErr != nil {
		return nil, f.CallErr
	}
	if f.CallResult != nil {
		return f.CallResult, nil
	}
	return &mcp.CallToolResult{}, nil
}

func (f *Fake) ListResources(ctx context.Context) ([]mcp.Resource, error) { return nil, nil }
func (f *Fake) ListPrompts(ctx context.Context) ([]mcp.Prompt, error)     { return nil, nil }

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingCount++
	return f.PingErr
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closedCh)
	}
	return nil
}

func (f *Fake) Closed() <-chan struct{} { return f.closedCh }

// SimulateDrop closes the transport out-of-band, as if the remote end
// hung up, without going through BackendService.disconnect.
func (f *Fake) SimulateDrop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closedCh)
	}
}

// PingCount returns the number of Ping calls observed so far.
func (f *Fake) PingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingCount
}

// ConnectCount returns the number of Connect calls observed so far.
func (f *Fake) ConnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCount
}

// SetConnectErr configures the error Connect returns, wrapped as a
// gwerrors TransportError unless already classified.
func (f *Fake) SetConnectErr(err error) {
	var ge *gwerrors.Error
	if err != nil && !gwerrors.As(err, &ge) {
		err = gwerrors.Wrap(gwerrors.TransportError, "simulated connect failure", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConnectErr = err
}

var _ gwtransport.Transport = (*Fake)(nil)

// ClassifyAsTimeout is a convenience constructor for tests that need a
// Timeout-kind connect failure.
func ClassifyAsTimeout() error {
	return gwerrors.New(gwerrors.Timeout, "simulated timeout")
}
