package gateway

import (
	"fmt"

	"github.com/torresproject/creditd/config"
	"github.com/torresproject/creditd/ports"
)

// New creates an order lookup from configuration.
func New(cfg config.GatewayConfig) (ports.OrderLookup, error) {
	switch cfg.Mode {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("gateway base URL is required for http mode")
		}
		return NewHTTPLookup(HTTPConfig{
			BaseURL:     cfg.BaseURL,
			AccessToken: cfg.AccessToken,
			Timeout:     cfg.Timeout,
		}), nil

	case "none", "":
		return NewNoopLookup(), nil

	default:
		return nil, fmt.Errorf("unknown gateway mode: %s", cfg.Mode)
	}
}
