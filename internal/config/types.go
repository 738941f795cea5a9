// Package config defines the in-memory configuration shapes the gateway
// core consumes (spec §3, §6). Parsing a config file into these
// structures is an ambient convenience (see loader.go); the core itself
// never reads a file, it is handed a *Config.
package config

import (
	"time"

	"mcpgateway/internal/gwerrors"
)

// TransportKind identifies which wire protocol a backend speaks.
type TransportKind string

const (
	TransportStdio           TransportKind = "stdio"
	TransportSSE             TransportKind = "sse"
	TransportStreamableHTTP  TransportKind = "streamable-http"
)

// BackoffStrategy selects the reconnect delay formula (spec §4.B).
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
)

// ReconnectPolicy governs BackendService's reconnect loop.
type ReconnectPolicy struct {
	Enabled            bool            `yaml:"enabled"`
	MaxAttempts        int             `yaml:"maxAttempts"` // 0 = unlimited
	InitialInterval    time.Duration   `yaml:"initialInterval"`
	MaxInterval        time.Duration   `yaml:"maxInterval"`
	BackoffStrategy    BackoffStrategy `yaml:"backoffStrategy"`
	BackoffMultiplier  float64         `yaml:"backoffMultiplier"`
	PerAttemptTimeout  time.Duration   `yaml:"perAttemptTimeout"`
	Jitter             bool            `yaml:"jitter"`
}

// PingPolicy governs BackendService's liveness-probing loop.
type PingPolicy struct {
	Enabled                bool          `yaml:"enabled"`
	Interval               time.Duration `yaml:"interval"`
	PerPingTimeout         time.Duration `yaml:"perPingTimeout"`
	MaxConsecutiveFailures int           `yaml:"maxConsecutiveFailures"`
	StartDelay             time.Duration `yaml:"startDelay"`
}

// DefaultReconnectPolicy mirrors the defaults implied by spec §3.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:           true,
		MaxAttempts:       0,
		InitialInterval:   1 * time.Second,
		MaxInterval:       60 * time.Second,
		BackoffStrategy:   BackoffExponential,
		BackoffMultiplier: 2.0,
		PerAttemptTimeout: 10 * time.Second,
		Jitter:            true,
	}
}

// DefaultPingPolicy mirrors the defaults implied by spec §3.
func DefaultPingPolicy() PingPolicy {
	return PingPolicy{
		Enabled:                true,
		Interval:               30 * time.Second,
		PerPingTimeout:         5 * time.Second,
		MaxConsecutiveFailures: 3,
		StartDelay:             5 * time.Second,
	}
}

// DefaultCallTimeout is the fallback per-call deadline (spec §3).
const DefaultCallTimeout = 30 * time.Second

// BackendServiceConfig describes one federated backend (spec §3).
type BackendServiceConfig struct {
	Name      string            `yaml:"name"`
	Transport TransportKind     `yaml:"transport"`

	// Stdio fields.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// SSE / StreamableHTTP fields.
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	APIKey  string            `yaml:"apiKey,omitempty"`

	Reconnect   ReconnectPolicy  `yaml:"reconnect"`
	Ping        PingPolicy       `yaml:"ping"`
	CallTimeout time.Duration    `yaml:"callTimeout"`

	// ToolEnable maps tool name -> enabled. A tool absent from this map
	// is enabled by default; only an explicit `false` disables it
	// (spec §4.C step 2).
	ToolEnable map[string]bool `yaml:"toolEnable,omitempty"`

	// WorkingDir is where relative Stdio Command paths are resolved
	// against (spec §3).
	WorkingDir string `yaml:"-"`
}

// Validate applies the minimal shape checks BackendService.connect
// needs before attempting a handshake (spec §4.B: ConfigInvalid).
func (c *BackendServiceConfig) Validate() error {
	if c.Name == "" {
		return errConfigInvalid("backend name is required")
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return errConfigInvalid("command is required for stdio transport")
		}
	case TransportSSE, TransportStreamableHTTP:
		if c.URL == "" {
			return errConfigInvalid("url is required for " + string(c.Transport) + " transport")
		}
	default:
		return errConfigInvalid("unsupported transport: " + string(c.Transport))
	}
	return nil
}

// WithDefaults returns a copy of c with zero-valued policy fields
// replaced by package defaults.
func (c BackendServiceConfig) WithDefaults() BackendServiceConfig {
	if c.Reconnect == (ReconnectPolicy{}) {
		c.Reconnect = DefaultReconnectPolicy()
	}
	if c.Ping == (PingPolicy{}) {
		c.Ping = DefaultPingPolicy()
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// HandlerKind identifies a CustomToolEntry's handler variant (spec §4.D).
type HandlerKind string

const (
	HandlerProxy    HandlerKind = "proxy"
	HandlerHTTP     HandlerKind = "http"
	HandlerFunction HandlerKind = "function"
	HandlerMCP      HandlerKind = "mcp"
)

// CustomToolConfig is the declared shape of one custom/overlay tool.
type CustomToolConfig struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	InputSchema map[string]any `yaml:"inputSchema"`
	Handler     HandlerKind    `yaml:"handler"`

	// proxy
	ProxyPlatform string         `yaml:"proxyPlatform,omitempty"`
	ProxyConfig   map[string]any `yaml:"proxyConfig,omitempty"`

	// http
	HTTPURL          string            `yaml:"httpUrl,omitempty"`
	HTTPMethod       string            `yaml:"httpMethod,omitempty"`
	HTTPHeaders      map[string]string `yaml:"httpHeaders,omitempty"`
	HTTPBodyTemplate string            `yaml:"httpBodyTemplate,omitempty"`

	// function
	FunctionCode       string `yaml:"functionCode,omitempty"`
	FunctionEntrypoint string `yaml:"functionEntrypoint,omitempty"`

	// mcp
	MCPServiceName string `yaml:"mcpServiceName,omitempty"`
	MCPToolName    string `yaml:"mcpToolName,omitempty"`
}

// Config is the full in-memory configuration object the core consumes
// (spec §6). Ingestion is out of core scope; see loader.go for the
// thin YAML convenience loader.
type Config struct {
	Backends     []BackendServiceConfig `yaml:"backends"`
	CustomTools  []CustomToolConfig     `yaml:"customTools"`
	WorkingDir   string                 `yaml:"workingDir"`
	EndpointURL  string                 `yaml:"endpointUrl"`

	// CozeToken is the global platform credential required by the
	// proxy(coze) custom-tool handler (spec §4.D).
	CozeToken string `yaml:"cozeToken,omitempty"`

	// UpstreamBearerToken authenticates the endpoint side of
	// UpstreamClient (spec Non-goals: bearer-token auth only).
	UpstreamBearerToken string `yaml:"upstreamBearerToken,omitempty"`

	ServerName    string `yaml:"serverName"`
	ServerVersion string `yaml:"serverVersion"`

	// HTTPAddr is the listen address for the POST /mcp, GET /healthz,
	// and GET /metrics surfaces (SPEC_FULL.md §6).
	HTTPAddr string `yaml:"httpAddr"`

	// EnableStdio starts the newline-delimited-JSON stdio surface
	// alongside the HTTP surface (spec §6 "Inbound MCP over stdio").
	EnableStdio bool `yaml:"enableStdio"`
}

func errConfigInvalid(msg string) error {
	return gwerrors.New(gwerrors.ConfigInvalid, msg)
}
