// Package gateway provides clients for the external delivery services the
// dispatcher depends on: the pharmacy network gateway for electronic
// transmission and the fax gateway. All clients are injected at
// construction time; nothing here reads the process environment.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/pkg/circuitbreaker"
)

// Ack statuses returned by the pharmacy network. Anything other than an
// explicit accept must be treated as a failure.
const (
	AckAccepted = "accepted"
	AckRejected = "rejected"
)

// Request is an outbound electronic prescription message.
type Request struct {
	NCPDPID   string
	MessageID string
	Payload   []byte
}

// Ack is the pharmacy network's response to a message.
type Ack struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
	Reason    string `json:"reason,omitempty"`
}

// Config holds connection settings for a gateway client.
type Config struct {
	Endpoint  string
	AccountID string
	APIKey    string
	Timeout   time.Duration
}

// PharmacyClient talks to the pharmacy network gateway over HTTPS.
type PharmacyClient struct {
	cfg     Config
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewPharmacyClient creates a pharmacy network client. The circuit breaker
// guards the network against a degraded gateway; pass nil to skip breaking.
func NewPharmacyClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *PharmacyClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &PharmacyClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// Send posts the message to the pharmacy network and returns its ack. A
// non-accepted status, a malformed ack, or a non-2xx response is an error;
// the caller records the failure and owns any retry decision.
func (c *PharmacyClient) Send(ctx context.Context, req *Request) (*Ack, error) {
	if c.breaker == nil {
		return c.send(ctx, req)
	}
	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return c.send(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("pharmacy gateway circuit open: %w", rx.ErrPharmacyUnreachable)
	}
	if err != nil {
		return nil, err
	}
	return result.(*Ack), nil
}

func (c *PharmacyClient) send(ctx context.Context, req *Request) (*Ack, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint+"/v1/messages", bytes.NewReader(req.Payload))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/xml")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("X-Account-ID", c.cfg.AccountID)
	httpReq.Header.Set("X-Destination-NCPDP", req.NCPDPID)
	httpReq.Header.Set("X-Message-ID", req.MessageID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("pharmacy gateway call: %w", err)
		}
		return nil, fmt.Errorf("pharmacy gateway call: %v: %w", err, rx.ErrPharmacyUnreachable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("pharmacy gateway returned %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("malformed gateway ack: %w", err)
	}
	c.logger.Debug("pharmacy gateway ack",
		zap.String("message_id", req.MessageID),
		zap.String("status", ack.Status))
	return &ack, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
