package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/internal/gateway"
	"github.com/carebridge/rx-transmit/internal/script"
)

// Electronic delivers prescriptions through the pharmacy network gateway.
type Electronic struct {
	gw     PharmacyGateway
	logger *zap.Logger
}

// NewElectronic creates the electronic channel.
func NewElectronic(gw PharmacyGateway, logger *zap.Logger) *Electronic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Electronic{gw: gw, logger: logger}
}

// Method returns the channel identifier.
func (e *Electronic) Method() rx.Channel { return rx.ChannelElectronic }

// Send transmits the message and requires an explicit accept from the
// network. Any other status, including an ambiguous one, is a failure.
func (e *Electronic) Send(ctx context.Context, t *rx.Transmission, pharmacy *rx.Pharmacy, msg *script.Message) (*SendResult, error) {
	payload, err := msg.ToXMLCompact()
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	ack, err := e.gw.Send(ctx, &gateway.Request{
		NCPDPID:   pharmacy.NCPDPID,
		MessageID: msg.Header.MessageID,
		Payload:   payload,
	})
	if err != nil {
		return nil, err
	}

	if ack.Status != gateway.AckAccepted {
		return nil, &rx.RejectedError{Status: ack.Status, Reason: ack.Reason}
	}

	response, err := json.Marshal(ack)
	if err != nil {
		return nil, fmt.Errorf("encode ack: %w", err)
	}
	return &SendResult{
		State:        rx.StateSent,
		Response:     response,
		GatewayMsgID: ack.MessageID,
		GatewayThrID: ack.ThreadID,
	}, nil
}
