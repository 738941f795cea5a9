package gwtransport

import (
	"context"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpgateway/internal/gwerrors"
)

// StreamableHTTPTransport speaks MCP over a single long-lived HTTP
// request/response stream of length-prefixed newline frames (spec
// §4.A). Grounded on giantswarm-muster's StreamableHTTPClient.
type StreamableHTTPTransport struct {
	baseTransport
	url     string
	headers map[string]string
	client  client.MCPClient
}

// NewStreamableHTTPTransport builds a StreamableHTTP transport for url.
func NewStreamableHTTPTransport(url string, headers map[string]string, apiKey string) *StreamableHTTPTransport {
	return &StreamableHTTPTransport{
		baseTransport: newBaseTransport(),
		url:           url,
		headers:       buildHeaders(url, headers, apiKey),
	}
}

func (t *StreamableHTTPTransport) Connect(ctx context.Context) (*mcp.InitializeResult, error) {
	var opts []transport.StreamableHTTPCOption
	if len(t.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(t.headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(t.url, opts...)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ConfigInvalid, "constructing StreamableHTTP client", err)
	}

	result, err := mcpClient.Initialize(ctx, initializeRequest("mcpgateway", "2024-11-05"))
	if err != nil {
		_ = mcpClient.Close()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, gwerrors.Wrap(gwerrors.Timeout, "StreamableHTTP initialize", err)
		}
		return nil, gwerrors.Wrap(gwerrors.HandshakeError, "StreamableHTTP initialize", err)
	}

	t.client = mcpClient
	return result, nil
}

func (t *StreamableHTTPTransport) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result.Tools, nil
}

func (t *StreamableHTTPTransport) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.CallTool(ctx, callToolRequest(name, args))
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result, nil
}

func (t *StreamableHTTPTransport) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result.Resources, nil
}

func (t *StreamableHTTPTransport) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result.Prompts, nil
}

func (t *StreamableHTTPTransport) Ping(ctx context.Context) error {
	if t.client == nil {
		return ErrTransportClosed
	}
	if err := t.client.Ping(ctx); err != nil {
		return classifyCallError(err)
	}
	return nil
}

func (t *StreamableHTTPTransport) Close() error {
	defer t.markClosed()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
