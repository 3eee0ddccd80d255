package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/torresproject/creditd/adapters/gateway"
	"github.com/torresproject/creditd/config"
)

func TestHTTPLookupResolvesItemCode(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/orders/order-1":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"items":[{"item_code":"credits_10"},{"item_code":"extra"}]}`))
		case "/orders/empty":
			w.Write([]byte(`{"items":[]}`))
		case "/orders/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	lookup := gateway.NewHTTPLookup(gateway.HTTPConfig{
		BaseURL:     server.URL,
		AccessToken: "tok123",
	})
	ctx := context.Background()

	code, err := lookup.ItemCode(ctx, "order-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if code != "credits_10" {
		t.Errorf("item code = %q, want credits_10 (first line item)", code)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("authorization = %q", gotAuth)
	}

	if _, err := lookup.ItemCode(ctx, "missing"); !errors.Is(err, gateway.ErrOrderNotFound) {
		t.Errorf("missing order error = %v, want ErrOrderNotFound", err)
	}
	if _, err := lookup.ItemCode(ctx, "empty"); !errors.Is(err, gateway.ErrOrderNotFound) {
		t.Errorf("empty order error = %v, want ErrOrderNotFound", err)
	}
	if _, err := lookup.ItemCode(ctx, "broken"); err == nil || errors.Is(err, gateway.ErrOrderNotFound) {
		t.Errorf("server error = %v, want transient error", err)
	}
}

func TestStaticLookup(t *testing.T) {
	lookup := &gateway.StaticLookup{Orders: map[string]string{"order-1": "credits_3"}}
	ctx := context.Background()

	code, err := lookup.ItemCode(ctx, "order-1")
	if err != nil || code != "credits_3" {
		t.Errorf("ItemCode = %q, %v", code, err)
	}
	if _, err := lookup.ItemCode(ctx, "nope"); !errors.Is(err, gateway.ErrOrderNotFound) {
		t.Errorf("error = %v, want ErrOrderNotFound", err)
	}
}

func TestFactory(t *testing.T) {
	if _, err := gateway.New(config.GatewayConfig{Mode: "none"}); err != nil {
		t.Errorf("none mode: %v", err)
	}
	if _, err := gateway.New(config.GatewayConfig{Mode: "http", BaseURL: "https://gw.example.com"}); err != nil {
		t.Errorf("http mode: %v", err)
	}
	if _, err := gateway.New(config.GatewayConfig{Mode: "http"}); err == nil {
		t.Error("http mode without base URL must fail")
	}
	if _, err := gateway.New(config.GatewayConfig{Mode: "carrier-pigeon"}); err == nil {
		t.Error("unknown mode must fail")
	}
}
