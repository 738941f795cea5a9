// Package gwtransport implements the byte/frame-level conversation with
// one backend MCP service (spec §4.A). It wraps
// github.com/mark3labs/mcp-go's client and client/transport packages —
// the same MCP client library giantswarm-muster uses — behind a single
// Transport interface so BackendService can treat stdio, SSE, and
// StreamableHTTP backends polymorphically.
package gwtransport

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpgateway/internal/gwerrors"
)

// ErrTransportClosed is returned by Send-shaped operations after Close.
var ErrTransportClosed = gwerrors.New(gwerrors.TransportError, "transport closed")

// Transport is the uniform capability set every backend wire protocol
// exposes (spec §4.A): connect, issue MCP requests, close, and observe
// a single deduplicated close event.
type Transport interface {
	// Connect performs the underlying connection/handshake at the
	// transport level (process spawn, HTTP dial, SSE subscribe) and
	// the MCP `initialize` exchange. It does not fetch the tool list;
	// that is BackendService's job (spec §4.B Handshake).
	Connect(ctx context.Context) (*mcp.InitializeResult, error)

	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)
	Ping(ctx context.Context) error

	// Close tears the transport down. Idempotent.
	Close() error

	// Closed is closed exactly once, the first time this transport is
	// closed; later closes do not close it again. The Stdio, SSE and
	// StreamableHTTP variants in this package close it only from Close:
	// they do not watch for process exit or connection errors themselves.
	Closed() <-chan struct{}
}

// baseTransport centralizes the close-once bookkeeping shared by all
// three variants so each one only has to call markClosed().
type baseTransport struct {
	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
}

func newBaseTransport() baseTransport {
	return baseTransport{closedCh: make(chan struct{})}
}

func (b *baseTransport) Closed() <-chan struct{} { return b.closedCh }

// markClosed closes closedCh exactly once. Safe to call from multiple
// goroutines (e.g. two Close calls racing each other).
func (b *baseTransport) markClosed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.closedCh)
}

func (b *baseTransport) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// initializeRequest builds the standard handshake payload sent by every
// transport variant, mirroring giantswarm-muster's client.go.
func initializeRequest(clientName string, protocolVersion string) mcp.InitializeRequest {
	return mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}
}

// callToolRequest builds a tools/call request, mirroring muster's
// baseMCPClient.callTool.
func callToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	}
}

// withDefaultTimeout returns ctx unchanged if it already carries a
// deadline, otherwise a derived context bounded by d.
func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// classifyConnectError wraps a raw mcp-go error in the gwerrors taxonomy
// so BackendService can decide reconnect-vs-surface without string
// matching on the caller side (spec §4.B, §7).
func classifyConnectError(stage string, err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded {
		return gwerrors.Wrap(gwerrors.Timeout, stage, err)
	}
	return gwerrors.Wrap(gwerrors.TransportError, stage, err)
}

// compile-time interface checks live in their respective files
var (
	_ Transport = (*StdioTransport)(nil)
	_ Transport = (*SSETransport)(nil)
	_ Transport = (*StreamableHTTPTransport)(nil)
)

// genericMCPClient is the subset of client.MCPClient every variant
// drives identically once connected.
type genericMCPClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context, request mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ListPrompts(ctx context.Context, request mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ genericMCPClient = (client.MCPClient)(nil)
