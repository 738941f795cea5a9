// Package protocol implements ProtocolHandler (spec §4.E): MCP
// JSON-RPC 2.0 message parsing, method dispatch, and response/error
// formatting. Grounded on the hand-rolled dispatch pattern in the
// retrieval pack's mcpgw.Gateway reference (a switch over method
// producing typed JSON-RPC error responses) rather than mcp-go's
// bundled server framework, because the spec demands exact control
// over error codes, the 1 MiB size limit, and version downgrade.
package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"mcpgateway/internal/gwerrors"
	"mcpgateway/internal/registry"
	"mcpgateway/pkg/logging"
)

// ToolRouter is the subset of ServiceManager the handler depends on.
type ToolRouter interface {
	ListAllTools() []registry.ToolDescriptor
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Handler dispatches one MCP JSON-RPC message at a time. Safe for
// concurrent use; each Handle call is independent except for the
// negotiated-version bookkeeping guarded by mu.
type Handler struct {
	router        ToolRouter
	serverName    string
	serverVersion string
	productionMode bool
	logger        logging.Logger
	now           func() time.Time

	mu                sync.Mutex
	negotiatedVersion string
}

// New builds a Handler. productionMode=true omits debug stack traces
// from error responses (spec §4.E "Error payload").
func New(router ToolRouter, serverName, serverVersion string, productionMode bool, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Handler{
		router:            router,
		serverName:        serverName,
		serverVersion:     serverVersion,
		productionMode:    productionMode,
		logger:            logger,
		now:               time.Now,
		negotiatedVersion: DefaultProtocolVersion,
	}
}

// Handle parses raw as one JSON-RPC message, dispatches it, and
// returns the marshaled response to write back, or nil if raw was a
// notification (no response is ever sent for those).
func (h *Handler) Handle(ctx context.Context, raw []byte) []byte {
	if len(raw) > MaxMessageSize {
		return mustMarshal(errorResponse(nil, CodeInvalidRequest, "request too large: exceeds the 1 MiB message limit", nil))
	}

	method, idPresent, id, jsonrpcVersion, params, err := parseMessage(raw)
	if err != nil {
		return mustMarshal(errorResponse(nil, CodeParseError, "parse error: "+err.Error(), h.errData(err)))
	}
	if jsonrpcVersion != "2.0" || method == "" {
		return mustMarshal(errorResponse(idOrNull(idPresent, id), CodeInvalidRequest,
			"invalid request: jsonrpc must be \"2.0\" and method is required", nil))
	}

	result, rerr := h.dispatch(ctx, method, params)

	if !idPresent {
		if rerr != nil {
			h.logger.Warn("ProtocolHandler", "notification %q failed: %v", method, rerr)
		}
		return nil
	}

	if rerr != nil {
		return mustMarshal(errorResponse(id, rerr.code, rerr.message, h.errData(rerr.cause)))
	}
	return mustMarshal(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (h *Handler) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *rpcError) {
	switch method {
	case "initialize":
		return h.handleInitialize(params)
	case "notifications/initialized":
		return nil, nil
	case "tools/list":
		return h.handleToolsList()
	case "tools/call":
		return h.handleToolsCall(ctx, params)
	case "resources/list":
		return map[string]any{"resources": []any{}}, nil
	case "prompts/list":
		return map[string]any{"prompts": []any{}}, nil
	case "ping":
		return map[string]any{"status": "ok", "timestamp": h.now().UTC().Format(time.RFC3339)}, nil
	default:
		return nil, &rpcError{code: CodeMethodNotFound, message: "method not found: " + method}
	}
}

func (h *Handler) handleInitialize(params json.RawMessage) (any, *rpcError) {
	var req struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &rpcError{code: CodeInvalidParams, message: "invalid initialize params", cause: err}
		}
	}

	version := DefaultProtocolVersion
	for _, v := range SupportedProtocolVersions {
		if v == req.ProtocolVersion {
			version = req.ProtocolVersion
			break
		}
	}

	h.mu.Lock()
	h.negotiatedVersion = version
	h.mu.Unlock()

	return map[string]any{
		"protocolVersion": version,
		"serverInfo": map[string]any{
			"name":    h.serverName,
			"version": h.serverVersion,
		},
		"capabilities": map[string]any{
			"tools":   map[string]any{},
			"logging": map[string]any{},
		},
	}, nil
}

func (h *Handler) handleToolsList() (any, *rpcError) {
	descs := h.router.ListAllTools()
	tools := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"inputSchema": d.InputSchema,
		})
	}
	return map[string]any{"tools": tools}, nil
}

func (h *Handler) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	if len(params) == 0 {
		return nil, &rpcError{code: CodeInvalidParams, message: "tools/call requires params"}
	}

	var req struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &rpcError{code: CodeInvalidParams, message: "invalid tools/call params", cause: err}
	}
	if req.Name == "" {
		return nil, &rpcError{code: CodeInvalidParams, message: "tools/call params.name must be a non-empty string"}
	}

	result, err := h.router.CallTool(ctx, req.Name, req.Arguments)
	if err != nil {
		switch gwerrors.KindOf(err) {
		case gwerrors.ToolNotFound:
			return nil, &rpcError{code: CodeMethodNotFound, message: err.Error(), cause: err}
		case gwerrors.InvalidArguments:
			return nil, &rpcError{code: CodeInvalidParams, message: err.Error(), cause: err}
		default:
			return map[string]any{
				"content": []map[string]any{{"type": "text", "text": err.Error()}},
				"isError": true,
			}, nil
		}
	}

	return map[string]any{
		"content": result.Content,
		"isError": result.IsError,
	}, nil
}

func (h *Handler) errData(err error) *ErrorData {
	if err == nil || h.productionMode {
		return nil
	}
	return &ErrorData{Stack: err.Error()}
}

func errorResponse(id json.RawMessage, code int, message string, data *ErrorData) Response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message, Data: data},
	}
}

func idOrNull(present bool, id json.RawMessage) json.RawMessage {
	if present {
		return id
	}
	return json.RawMessage("null")
}

// parseMessage decodes the top-level fields of one JSON-RPC message
// without losing whether "id" was present, so notifications (absent
// id) can be distinguished from an explicit "id": null.
func parseMessage(raw []byte) (method string, idPresent bool, id json.RawMessage, jsonrpcVersion string, params json.RawMessage, err error) {
	var fields map[string]json.RawMessage
	if err = json.Unmarshal(raw, &fields); err != nil {
		return
	}
	if v, ok := fields["jsonrpc"]; ok {
		_ = json.Unmarshal(v, &jsonrpcVersion)
	}
	if v, ok := fields["method"]; ok {
		_ = json.Unmarshal(v, &method)
	}
	if v, ok := fields["id"]; ok {
		idPresent = true
		id = v
	}
	params = fields["params"]
	return
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error marshaling response"}}`)
	}
	return b
}
