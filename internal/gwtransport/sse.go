package gwtransport

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpgateway/internal/gwerrors"
)

// hostedAPIKeyHosts lists URL substrings recognised as "hosted variant"
// endpoints for which a configured apiKey is injected as a bearer
// Authorization header (spec §3: "a recognized hosted variant").
var hostedAPIKeyHosts = []string{
	".composio.dev",
	".smithery.ai",
	"mcp.anthropic.com",
}

// isHostedAPIKeyURL reports whether url matches a recognized hosted
// MCP provider that accepts a bearer apiKey.
func isHostedAPIKeyURL(url string) bool {
	for _, host := range hostedAPIKeyHosts {
		if strings.Contains(url, host) {
			return true
		}
	}
	return false
}

// buildHeaders merges explicit headers with an apiKey-derived bearer
// Authorization header when url is a recognized hosted variant.
func buildHeaders(url string, headers map[string]string, apiKey string) map[string]string {
	merged := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		merged[k] = v
	}
	if apiKey != "" && isHostedAPIKeyURL(url) {
		merged["Authorization"] = "Bearer " + apiKey
	}
	return merged
}

// SSETransport speaks MCP over Server-Sent Events: an HTTP connection
// accepting text/event-stream for inbound messages, with outbound
// requests sent via the companion POST endpoint the backend advertises
// during handshake (spec §4.A). Grounded on giantswarm-muster's
// SSEClient.
type SSETransport struct {
	baseTransport
	url     string
	headers map[string]string
	client  client.MCPClient
}

// NewSSETransport builds an SSE transport for url. When apiKey is set
// and url matches a recognized hosted variant, an Authorization header
// is injected (spec §3).
func NewSSETransport(url string, headers map[string]string, apiKey string) *SSETransport {
	return &SSETransport{
		baseTransport: newBaseTransport(),
		url:           url,
		headers:       buildHeaders(url, headers, apiKey),
	}
}

func (t *SSETransport) Connect(ctx context.Context) (*mcp.InitializeResult, error) {
	var opts []transport.ClientOption
	if len(t.headers) > 0 {
		opts = append(opts, transport.WithHeaders(t.headers))
	}

	mcpClient, err := client.NewSSEMCPClient(t.url, opts...)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ConfigInvalid, "constructing SSE client", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, gwerrors.Wrap(gwerrors.TransportError, "starting SSE transport", err)
	}

	result, err := mcpClient.Initialize(ctx, initializeRequest("mcpgateway", "2024-11-05"))
	if err != nil {
		_ = mcpClient.Close()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, gwerrors.Wrap(gwerrors.Timeout, "SSE initialize", err)
		}
		return nil, gwerrors.Wrap(gwerrors.HandshakeError, "SSE initialize", err)
	}

	t.client = mcpClient
	return result, nil
}

func (t *SSETransport) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result.Tools, nil
}

func (t *SSETransport) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.CallTool(ctx, callToolRequest(name, args))
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result, nil
}

func (t *SSETransport) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result.Resources, nil
}

func (t *SSETransport) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result.Prompts, nil
}

func (t *SSETransport) Ping(ctx context.Context) error {
	if t.client == nil {
		return ErrTransportClosed
	}
	if err := t.client.Ping(ctx); err != nil {
		return classifyCallError(err)
	}
	return nil
}

func (t *SSETransport) Close() error {
	defer t.markClosed()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
