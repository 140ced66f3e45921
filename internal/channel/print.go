package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/internal/script"
)

// Print renders the message into a durable document stored with the ledger
// entry. No network dependency: the only failure mode is a rendering or
// storage error, which is fatal to the attempt.
type Print struct {
	renderer DocumentRenderer
	docs     DocumentStore
	logger   *zap.Logger
}

// NewPrint creates the print channel.
func NewPrint(renderer DocumentRenderer, docs DocumentStore, logger *zap.Logger) *Print {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Print{renderer: renderer, docs: docs, logger: logger}
}

// Method returns the channel identifier.
func (p *Print) Method() rx.Channel { return rx.ChannelPrint }

// Send renders and stores the printable prescription.
func (p *Print) Send(ctx context.Context, t *rx.Transmission, pharmacy *rx.Pharmacy, msg *script.Message) (*SendResult, error) {
	document, err := p.renderer.Render(msg)
	if err != nil {
		return nil, fmt.Errorf("render printable prescription: %w", err)
	}

	if err := p.docs.StoreDocument(ctx, t.ID, "application/pdf", document); err != nil {
		return nil, fmt.Errorf("store printable prescription: %w", err)
	}

	response, err := json.Marshal(map[string]any{
		"content_type":   "application/pdf",
		"document_bytes": len(document),
	})
	if err != nil {
		return nil, fmt.Errorf("encode print result: %w", err)
	}
	p.logger.Debug("prescription rendered for print",
		zap.String("transmission_id", t.ID),
		zap.Int("document_bytes", len(document)))
	return &SendResult{State: rx.StatePrinted, Response: response}, nil
}
