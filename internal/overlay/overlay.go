// Package overlay implements CustomToolOverlay (spec §4.D): the
// user-declared tools that shadow or augment backend tools. Grounded on
// giantswarm-muster's internal/aggregator/tool_factory.go and
// submit_token.go (ServerTool-building pattern for hand-declared tools),
// generalized from muster's narrow proxy/auth-tool set to the spec's
// four handler kinds (proxy, http, function, mcp).
package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpgateway/internal/config"
	"mcpgateway/internal/gwerrors"
	"mcpgateway/pkg/logging"
)

// defaultProxyTimeout is the fallback deadline for the proxy(coze)
// handler (spec §4.D).
const defaultProxyTimeout = 60 * time.Second

// Descriptor is the wire-facing shape of one overlay tool.
type Descriptor struct {
	Name        string
	Description string
	InputSchema mcp.ToolInputSchema
}

// Overlay holds the configured custom tools and dispatches calls to
// their handlers.
type Overlay struct {
	mu         sync.RWMutex
	entries    map[string]config.CustomToolConfig
	order      []string
	cozeToken  string
	httpClient *http.Client
	logger     logging.Logger
}

// New builds an empty Overlay. Call LoadFromConfig to populate it.
func New(logger logging.Logger) *Overlay {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Overlay{
		entries:    make(map[string]config.CustomToolConfig),
		httpClient: &http.Client{Timeout: defaultProxyTimeout},
		logger:     logger,
	}
}

// LoadFromConfig replaces the overlay's tool set with tools and records
// cozeToken as the platform credential the proxy(coze) handler resolves.
func (o *Overlay) LoadFromConfig(tools []config.CustomToolConfig, cozeToken string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.entries = make(map[string]config.CustomToolConfig, len(tools))
	o.order = make([]string, 0, len(tools))
	o.cozeToken = cozeToken
	for _, t := range tools {
		o.entries[t.Name] = t
		o.order = append(o.order, t.Name)
	}
}

// List returns overlay tool descriptors in declaration order.
func (o *Overlay) List() []Descriptor {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Descriptor, 0, len(o.order))
	for _, name := range o.order {
		t := o.entries[name]
		out = append(out, Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: toMCPInputSchema(t.InputSchema),
		})
	}
	return out
}

// Has reports whether name is a declared overlay tool.
func (o *Overlay) Has(name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.entries[name]
	return ok
}

// Get returns the declared configuration for an overlay tool.
func (o *Overlay) Get(name string) (config.CustomToolConfig, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.entries[name]
	return t, ok
}

// Call validates args against the tool's declared schema and dispatches
// to the matching handler. Handler kind "mcp" is never dispatched here;
// the caller (ServiceManager) rewrites it to a backend call instead
// (spec §4.C routing rewrite).
func (o *Overlay) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t, ok := o.Get(name)
	if !ok {
		return nil, gwerrors.New(gwerrors.ToolNotFound, name)
	}

	if err := validateArgs(t.InputSchema, args); err != nil {
		return nil, err
	}

	switch t.Handler {
	case config.HandlerProxy:
		return o.callProxy(ctx, t, args)
	case config.HandlerHTTP:
		return o.callHTTP(ctx, t, args)
	case config.HandlerFunction:
		return o.callFunction(ctx, t, args)
	case config.HandlerMCP:
		return nil, gwerrors.New(gwerrors.Internal, "mcp-handler tools must be routed by the caller, not dispatched through Call")
	default:
		return nil, gwerrors.New(gwerrors.Internal, "unknown handler kind: "+string(t.Handler))
	}
}

// callProxy resolves the global platform token and forwards to the
// platform's outbound endpoint. Only "coze" is implemented; any other
// ProxyPlatform is a ConfigInvalid, matching spec §4.D's "fail with
// ConfigError if absent" for the missing-credential case.
func (o *Overlay) callProxy(ctx context.Context, t config.CustomToolConfig, args map[string]any) (*mcp.CallToolResult, error) {
	if t.ProxyPlatform != "coze" {
		return nil, gwerrors.New(gwerrors.ConfigInvalid, "proxy tool "+t.Name+" uses unsupported platform "+t.ProxyPlatform)
	}

	o.mu.RLock()
	token := o.cozeToken
	o.mu.RUnlock()

	if token == "" {
		return nil, gwerrors.New(gwerrors.ConfigInvalid, "proxy tool "+t.Name+" requires a configured platform token")
	}

	endpoint, _ := t.ProxyConfig["endpoint"].(string)
	if endpoint == "" {
		return nil, gwerrors.New(gwerrors.ConfigInvalid, "proxy tool "+t.Name+" has no endpoint configured")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultProxyTimeout)
	defer cancel()

	body, err := json.Marshal(args)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.InvalidArguments, "encoding proxy arguments", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ConfigInvalid, "building proxy request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return o.doHTTP(req)
}

// callHTTP builds and issues the configured outbound request.
func (o *Overlay) callHTTP(ctx context.Context, t config.CustomToolConfig, args map[string]any) (*mcp.CallToolResult, error) {
	if t.HTTPURL == "" {
		return nil, gwerrors.New(gwerrors.ConfigInvalid, "http tool "+t.Name+" has no httpUrl configured")
	}

	method := t.HTTPMethod
	if method == "" {
		method = http.MethodPost
	}

	body, err := renderHTTPBody(t.HTTPBodyTemplate, args)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.InvalidArguments, "rendering http body template", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultProxyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, t.HTTPURL, bytes.NewReader(body))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ConfigInvalid, "building http request", err)
	}
	for k, v := range t.HTTPHeaders {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return o.doHTTP(req)
}

// callFunction is a stub: the sandboxed function runner is out of core
// scope, but the dispatch and error-mapping path is fully implemented
// (spec §4.D).
func (o *Overlay) callFunction(_ context.Context, t config.CustomToolConfig, _ map[string]any) (*mcp.CallToolResult, error) {
	return nil, gwerrors.New(gwerrors.ToolExecutionError, "function sandbox is not available in this build: "+t.Name)
}

func (o *Overlay) doHTTP(req *http.Request) (*mcp.CallToolResult, error) {
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ToolExecutionError, "outbound request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ToolExecutionError, "reading response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gwerrors.New(gwerrors.ToolExecutionError,
			fmt.Sprintf("outbound call returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(respBody)}},
	}, nil
}

// renderHTTPBody substitutes "{{argName}}" placeholders in tmpl with the
// JSON encoding of args[argName], with its leading and trailing double
// quotes trimmed (so a string value is inserted bare). Empty tmpl
// marshals args as-is.
func renderHTTPBody(tmpl string, args map[string]any) ([]byte, error) {
	if tmpl == "" {
		return json.Marshal(args)
	}

	out := []byte(tmpl)
	for k, v := range args {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		placeholder := "{{" + k + "}}"
		out = bytes.ReplaceAll(out, []byte(placeholder), bytes.Trim(encoded, `"`))
	}
	return out, nil
}

func toMCPInputSchema(schema map[string]any) mcp.ToolInputSchema {
	out := mcp.ToolInputSchema{Type: "object"}
	if t, ok := schema["type"].(string); ok {
		out.Type = t
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = props
	}
	if req, ok := schema["required"].([]string); ok {
		out.Required = req
	} else if reqAny, ok := schema["required"].([]any); ok {
		for _, r := range reqAny {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}
