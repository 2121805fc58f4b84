package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ticketwatch/internal/config"
)

func TestHTTPGatewayDispatch(t *testing.T) {
	var received gatewayRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token123" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer server.Close()

	g := NewHTTPGateway(config.DispatchConfig{
		GatewayURL:     server.URL,
		RequestTimeout: 5 * time.Second,
		AuthToken:      "token123",
	}, zerolog.Nop())

	result, err := g.Dispatch(context.Background(), "email", "user@example.com", []byte(`{"msg":"price drop"}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !result.Success {
		t.Error("expected success for 200 response")
	}
	if result.ResponseCode != http.StatusOK {
		t.Errorf("ResponseCode = %d", result.ResponseCode)
	}
	if result.ResponseBody != `{"status":"queued"}` {
		t.Errorf("ResponseBody = %q", result.ResponseBody)
	}
	if received.Channel != "email" || received.Recipient != "user@example.com" {
		t.Errorf("gateway saw channel=%q recipient=%q", received.Channel, received.Recipient)
	}
}

func TestHTTPGatewayRejectedDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "mailbox unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	g := NewHTTPGateway(config.DispatchConfig{GatewayURL: server.URL}, zerolog.Nop())

	result, err := g.Dispatch(context.Background(), "email", "user@example.com", []byte(`{}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Success {
		t.Error("5xx response must not count as success")
	}
	if result.ResponseCode != http.StatusBadGateway {
		t.Errorf("ResponseCode = %d", result.ResponseCode)
	}
}

func TestHTTPGatewayTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	server.Close()

	g := NewHTTPGateway(config.DispatchConfig{GatewayURL: server.URL}, zerolog.Nop())
	if _, err := g.Dispatch(context.Background(), "email", "u", []byte(`{}`)); err == nil {
		t.Error("expected transport error against closed server")
	}
}

func TestHTTPGatewayMissingURL(t *testing.T) {
	g := NewHTTPGateway(config.DispatchConfig{}, zerolog.Nop())
	if _, err := g.Dispatch(context.Background(), "email", "u", []byte(`{}`)); err == nil {
		t.Error("expected error for unconfigured gateway url")
	}
}
