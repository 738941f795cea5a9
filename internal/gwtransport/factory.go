package gwtransport

import (
	"mcpgateway/internal/config"
	"mcpgateway/internal/gwerrors"
)

// New builds the Transport implementation matching cfg.Transport.
// Grounded on giantswarm-muster's NewMCPClientFromType factory.
func New(cfg config.BackendServiceConfig) (Transport, error) {
	switch cfg.Transport {
	case config.TransportStdio:
		return NewStdioTransport(cfg.Command, cfg.Args, cfg.Env, cfg.WorkingDir), nil

	case config.TransportSSE:
		return NewSSETransport(cfg.URL, cfg.Headers, cfg.APIKey), nil

	case config.TransportStreamableHTTP:
		return NewStreamableHTTPTransport(cfg.URL, cfg.Headers, cfg.APIKey), nil

	default:
		return nil, gwerrors.New(gwerrors.ConfigInvalid, "unsupported transport: "+string(cfg.Transport))
	}
}
