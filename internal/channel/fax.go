package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/internal/script"
)

// Fax renders the message to a document and submits it to the fax gateway.
type Fax struct {
	gw       FaxGateway
	renderer DocumentRenderer
	docs     DocumentStore
	logger   *zap.Logger
}

// NewFax creates the fax channel.
func NewFax(gw FaxGateway, renderer DocumentRenderer, docs DocumentStore, logger *zap.Logger) *Fax {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fax{gw: gw, renderer: renderer, docs: docs, logger: logger}
}

// Method returns the channel identifier.
func (f *Fax) Method() rx.Channel { return rx.ChannelFax }

// Send faxes the rendered document to the pharmacy. A pharmacy without a
// fax number fails the precondition with ErrPharmacyUnreachable before any
// submission is attempted.
func (f *Fax) Send(ctx context.Context, t *rx.Transmission, pharmacy *rx.Pharmacy, msg *script.Message) (*SendResult, error) {
	if pharmacy.FaxNumber == "" {
		return nil, fmt.Errorf("pharmacy %s has no fax number: %w", pharmacy.ID, rx.ErrPharmacyUnreachable)
	}

	document, err := f.renderer.Render(msg)
	if err != nil {
		return nil, fmt.Errorf("render fax document: %w", err)
	}

	result, err := f.gw.SendFax(ctx, pharmacy.FaxNumber, document)
	if err != nil {
		return nil, err
	}

	if f.docs != nil {
		if err := f.docs.StoreDocument(ctx, t.ID, "application/pdf", document); err != nil {
			f.logger.Error("failed to persist faxed document", zap.String("transmission_id", t.ID), zap.Error(err))
		}
	}

	response, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode fax result: %w", err)
	}
	return &SendResult{
		State:        rx.StateFaxed,
		Response:     response,
		GatewayMsgID: result.FaxID,
	}, nil
}
