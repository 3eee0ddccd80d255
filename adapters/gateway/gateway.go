// Package gateway provides ports.OrderLookup adapters for the payment
// gateway's order API. Payment confirmations sometimes arrive without
// an explicit amount; the lookup resolves the order's line-item code so
// settlement can map it through the pack table.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/torresproject/creditd/ports"
)

// ErrOrderNotFound is returned when the gateway has no order for the
// reference.
var ErrOrderNotFound = ports.ErrOrderNotFound

// HTTPLookup resolves order references against the gateway's REST API.
type HTTPLookup struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

// HTTPConfig configures the HTTP order lookup.
type HTTPConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// NewHTTPLookup creates an order lookup against the gateway API.
func NewHTTPLookup(cfg HTTPConfig) *HTTPLookup {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLookup{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
	}
}

// orderResponse is the slice of the gateway's order document we need:
// the first line item's code.
type orderResponse struct {
	Items []struct {
		ItemCode string `json:"item_code"`
	} `json:"items"`
}

// ItemCode fetches the order and returns its first line-item code.
func (l *HTTPLookup) ItemCode(ctx context.Context, orderRef string) (string, error) {
	u := l.baseURL + "/orders/" + url.PathEscape(orderRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if l.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+l.accessToken)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch order %s: %w", orderRef, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrOrderNotFound
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, body)
	}

	var order orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return "", fmt.Errorf("decode order %s: %w", orderRef, err)
	}
	if len(order.Items) == 0 || order.Items[0].ItemCode == "" {
		return "", ErrOrderNotFound
	}
	return order.Items[0].ItemCode, nil
}

// NoopLookup always fails. Used when every confirmation is expected to
// carry an explicit amount.
type NoopLookup struct{}

// NewNoopLookup creates a lookup that resolves nothing.
func NewNoopLookup() *NoopLookup {
	return &NoopLookup{}
}

// ItemCode always returns ErrOrderNotFound.
func (l *NoopLookup) ItemCode(ctx context.Context, orderRef string) (string, error) {
	return "", ErrOrderNotFound
}

// StaticLookup maps order references to item codes from a fixed table.
// Used in tests and development.
type StaticLookup struct {
	Orders map[string]string // order ref -> item code
}

// ItemCode resolves from the static table.
func (l *StaticLookup) ItemCode(ctx context.Context, orderRef string) (string, error) {
	code, ok := l.Orders[orderRef]
	if !ok {
		return "", ErrOrderNotFound
	}
	return code, nil
}

// Ensure interface compliance.
var (
	_ ports.OrderLookup = (*HTTPLookup)(nil)
	_ ports.OrderLookup = (*NoopLookup)(nil)
	_ ports.OrderLookup = (*StaticLookup)(nil)
)
