package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ticketwatch/internal/config"
)

// Result is the outcome of one delivery attempt.
type Result struct {
	Success      bool
	ResponseCode int
	ResponseBody string
}

// Dispatcher hands a payload to the external notification gateway. The
// gateway owns channel-specific wire formats; this side only reports
// the attempt outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel, recipient string, payload []byte) (Result, error)
}

// HTTPGateway posts deliveries to a notification gateway over HTTP.
type HTTPGateway struct {
	url       string
	userAgent string
	authToken string
	client    *http.Client
	log       zerolog.Logger
}

// NewHTTPGateway builds a gateway client from dispatch settings.
func NewHTTPGateway(cfg config.DispatchConfig, log zerolog.Logger) *HTTPGateway {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		url:       cfg.GatewayURL,
		userAgent: cfg.UserAgent,
		authToken: cfg.AuthToken,
		client:    &http.Client{Timeout: timeout},
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

type gatewayRequest struct {
	Channel   string          `json:"channel"`
	Recipient string          `json:"recipient"`
	Payload   json.RawMessage `json:"payload"`
}

// Dispatch sends one notification. A non-2xx gateway response is a
// failed Result, not an error; errors are reserved for transport
// problems.
func (g *HTTPGateway) Dispatch(ctx context.Context, channel, recipient string, payload []byte) (Result, error) {
	if g.url == "" {
		return Result{}, fmt.Errorf("dispatch: gateway url not configured")
	}

	body, err := json.Marshal(gatewayRequest{
		Channel:   channel,
		Recipient: recipient,
		Payload:   json.RawMessage(payload),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	if g.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.authToken)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	result := Result{
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		ResponseCode: resp.StatusCode,
		ResponseBody: string(respBody),
	}

	if !result.Success {
		g.log.Warn().
			Int("status", resp.StatusCode).
			Str("channel", channel).
			Msg("gateway rejected delivery")
	}
	return result, nil
}

var _ Dispatcher = (*HTTPGateway)(nil)
