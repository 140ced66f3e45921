package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
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

// FaxResult is the fax gateway's response to a submission.
type FaxResult struct {
	FaxID  string `json:"faxId"`
	Status string `json:"status"`
}

// FaxClient submits rendered documents to the fax gateway.
type FaxClient struct {
	cfg     Config
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewFaxClient creates a fax gateway client.
func NewFaxClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *FaxClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &FaxClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

type faxRequest struct {
	Destination string `json:"destination"`
	ContentType string `json:"contentType"`
	Document    string `json:"document"`
}

// SendFax submits document to destination and returns the gateway's fax id
// and status.
func (c *FaxClient) SendFax(ctx context.Context, destination string, document []byte) (*FaxResult, error) {
	if c.breaker == nil {
		return c.sendFax(ctx, destination, document)
	}
	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return c.sendFax(ctx, destination, document)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("fax gateway circuit open: %w", rx.ErrPharmacyUnreachable)
	}
	if err != nil {
		return nil, err
	}
	return result.(*FaxResult), nil
}

func (c *FaxClient) sendFax(ctx context.Context, destination string, document []byte) (*FaxResult, error) {
	payload, err := json.Marshal(faxRequest{
		Destination: destination,
		ContentType: "application/pdf",
		Document:    base64.StdEncoding.EncodeToString(document),
	})
	if err != nil {
		return nil, fmt.Errorf("encode fax request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint+"/v1/faxes", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build fax request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("fax gateway call: %w", err)
		}
		return nil, fmt.Errorf("fax gateway call: %v: %w", err, rx.ErrPharmacyUnreachable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read fax response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fax gateway returned %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var result FaxResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("malformed fax response: %w", err)
	}
	c.logger.Debug("fax submitted",
		zap.String("destination", destination),
		zap.String("fax_id", result.FaxID))
	return &result, nil
}
