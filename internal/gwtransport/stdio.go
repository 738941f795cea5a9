package gwtransport

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpgateway/internal/gwerrors"
)

// DefaultStdioInitTimeout bounds the initialize handshake when the
// caller's context carries no deadline of its own.
const DefaultStdioInitTimeout = 10 * time.Second

// StdioTransport spawns a child process and speaks newline-delimited
// JSON-RPC over its stdin/stdout, draining stderr for diagnostics
// (spec §4.A). Grounded on giantswarm-muster's StdioClient.
type StdioTransport struct {
	baseTransport
	command string
	args    []string
	env     map[string]string
	client  client.MCPClient
}

// NewStdioTransport builds a Stdio transport. If command is a relative
// path it is resolved against workingDir (spec §3).
func NewStdioTransport(command string, args []string, env map[string]string, workingDir string) *StdioTransport {
	resolved := command
	if workingDir != "" && !filepath.IsAbs(command) {
		resolved = filepath.Join(workingDir, command)
	}
	return &StdioTransport{
		baseTransport: newBaseTransport(),
		command:       resolved,
		args:          args,
		env:           env,
	}
}

func (t *StdioTransport) Connect(ctx context.Context) (*mcp.InitializeResult, error) {
	var envStrings []string
	for k, v := range t.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(t.command, envStrings, t.args...)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.TransportError, "spawning stdio backend", err)
	}

	initCtx, cancel := withDefaultTimeout(ctx, DefaultStdioInitTimeout)
	defer cancel()

	result, err := mcpClient.Initialize(initCtx, initializeRequest("mcpgateway", "2024-11-05"))
	if err != nil {
		_ = mcpClient.Close()
		if initCtx.Err() == context.DeadlineExceeded {
			return nil, gwerrors.Wrap(gwerrors.Timeout, "stdio initialize", err)
		}
		return nil, gwerrors.Wrap(gwerrors.HandshakeError, "stdio initialize", err)
	}

	t.client = mcpClient
	return result, nil
}

func (t *StdioTransport) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result.Tools, nil
}

func (t *StdioTransport) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.CallTool(ctx, callToolRequest(name, args))
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result, nil
}

func (t *StdioTransport) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result.Resources, nil
}

func (t *StdioTransport) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	if t.client == nil {
		return nil, ErrTransportClosed
	}
	result, err := t.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, classifyCallError(err)
	}
	return result.Prompts, nil
}

func (t *StdioTransport) Ping(ctx context.Context) error {
	if t.client == nil {
		return ErrTransportClosed
	}
	if err := t.client.Ping(ctx); err != nil {
		return classifyCallError(err)
	}
	return nil
}

func (t *StdioTransport) Close() error {
	defer t.markClosed()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// classifyCallError maps a failure from an in-flight MCP call (as
// opposed to the initial connect) into the gwerrors taxonomy.
func classifyCallError(err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded {
		return gwerrors.Wrap(gwerrors.Timeout, "mcp call", err)
	}
	return gwerrors.Wrap(gwerrors.TransportError, "mcp call", err)
}
