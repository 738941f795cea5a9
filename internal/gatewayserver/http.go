// Package gatewayserver implements the gateway's own inbound MCP
// surfaces (spec §6): POST /mcp over HTTP, newline-delimited JSON over
// stdio, plus the ambient GET /healthz and GET /metrics operational
// endpoints SPEC_FULL.md §6 adds. Every inbound message, regardless of
// surface, is handed to the same internal/protocol.Handler so dispatch
// and error-code mapping never diverges between transports.
//
// Grounded on giantswarm-muster's internal/aggregator.AggregatorServer,
// which likewise fronts one core dispatcher (its mcpserver.MCPServer)
// with multiple concrete net/http.Server instances for its SSE/
// streamable-HTTP transports; generalized here to this gateway's
// single hand-rolled JSON-RPC endpoint instead of mcp-go's bundled
// server transports (spec §4.E requires exact control the framework
// doesn't expose).
package gatewayserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mcpgateway/internal/protocol"
	"mcpgateway/pkg/logging"
)

// Dispatcher is the subset of *protocol.Handler this package depends
// on, kept narrow so tests can substitute a fake.
type Dispatcher interface {
	Handle(ctx context.Context, raw []byte) []byte
}

// HTTPServer fronts the gateway's POST /mcp JSON-RPC endpoint plus
// /healthz and /metrics.
type HTTPServer struct {
	addr       string
	dispatcher Dispatcher
	logger     logging.Logger
	srv        *http.Server
}

// NewHTTPServer builds a server listening on addr (e.g. ":8080").
func NewHTTPServer(addr string, dispatcher Dispatcher, logger logging.Logger) *HTTPServer {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	h := &HTTPServer{addr: addr, dispatcher: dispatcher, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", h.handleMCP)
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	h.srv = &http.Server{Addr: addr, Handler: mux}
	return h
}

// ListenAndServe blocks until the server stops or errors. Callers
// typically run this in its own goroutine and call Shutdown to stop it.
func (h *HTTPServer) ListenAndServe() error {
	h.logger.Info("HTTPServer", "listening on %s", h.addr)
	err := h.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

// handleMCP implements spec §6 "Inbound MCP over HTTP": JSON-RPC 2.0
// request body, MCP-Protocol-Version response header, 200 for any
// produced response body (including an error envelope), 400 for
// parse/validation failures, and the 1 MiB inbound size cap enforced
// here as well as inside the Handler (so an oversize body never even
// reaches json.Unmarshal's allocator).
func (h *HTTPServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(invalidRequestBody("Content-Type must be application/json"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, protocol.MaxMessageSize+1))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(invalidRequestBody("failed to read request body"))
		return
	}
	if len(body) > protocol.MaxMessageSize {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(invalidRequestBody("request too large: exceeds the 1 MiB message limit"))
		return
	}

	resp := h.dispatcher.Handle(r.Context(), body)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("MCP-Protocol-Version", protocol.DefaultProtocolVersion)
	if resp == nil {
		// Notification: no JSON-RPC response, but the HTTP request
		// still needs a status.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	status := http.StatusOK
	var envelope struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(resp, &envelope) == nil && envelope.Error != nil &&
		(envelope.Error.Code == protocol.CodeParseError || envelope.Error.Code == protocol.CodeInvalidRequest) {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp)
}

func (h *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func invalidRequestBody(message string) []byte {
	return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":` +
		strconv.Itoa(protocol.CodeInvalidRequest) + `,"message":"` + message + `"}}`)
}

// StdioServer implements spec §6 "Inbound MCP over stdio": newline-
// delimited JSON on stdin/stdout, with stderr reserved for free-form
// diagnostics (the gateway's own logger writes there).
type StdioServer struct {
	dispatcher Dispatcher
	in         io.Reader
	out        io.Writer
	logger     logging.Logger
}

// NewStdioServer builds a server reading stdin and writing stdout.
func NewStdioServer(dispatcher Dispatcher, logger logging.Logger) *StdioServer {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &StdioServer{dispatcher: dispatcher, in: os.Stdin, out: os.Stdout, logger: logger}
}

// Serve blocks, reading one newline-framed JSON message at a time
// until ctx is canceled or the input stream closes. Messages are
// dispatched and written back in strict arrival order (spec §5
// ordering guarantee 1, generalized to this inbound surface).
func (s *StdioServer) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxMessageSize+1)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.dispatcher.Handle(ctx, line)
		if resp == nil {
			continue
		}
		if _, err := s.out.Write(resp); err != nil {
			return err
		}
		if _, err := s.out.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return scanner.Err()
}
