// Package channel implements the delivery strategies for prescription
// transmissions. One TransmissionChannel per delivery method, selected by
// the pure channel decision in the rx package and driven by the Dispatcher.
package channel

import (
	"context"
	"encoding/json"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/internal/gateway"
	"github.com/carebridge/rx-transmit/internal/script"
)

// PharmacyGateway is the electronic pharmacy network dependency.
type PharmacyGateway interface {
	Send(ctx context.Context, req *gateway.Request) (*gateway.Ack, error)
}

// FaxGateway is the fax submission dependency.
type FaxGateway interface {
	SendFax(ctx context.Context, destination string, document []byte) (*gateway.FaxResult, error)
}

// DocumentRenderer renders a structured message into a durable document.
type DocumentRenderer interface {
	Render(msg *script.Message) ([]byte, error)
}

// DocumentStore persists rendered documents alongside the ledger entry.
type DocumentStore interface {
	StoreDocument(ctx context.Context, transmissionID, contentType string, data []byte) error
}

// Recorder is the ledger surface the dispatcher writes through.
type Recorder interface {
	UpdateState(ctx context.Context, id string, next rx.State, u rx.Update) (*rx.Transmission, error)
}

// SendResult is a successful channel delivery.
type SendResult struct {
	State        rx.State
	Response     json.RawMessage
	GatewayMsgID string
	GatewayThrID string
}

// TransmissionChannel sends one prescription message over one delivery
// method. Implementations perform the send only; all ledger writes belong
// to the dispatcher so failure recording is uniform across channels.
type TransmissionChannel interface {
	Method() rx.Channel
	Send(ctx context.Context, t *rx.Transmission, pharmacy *rx.Pharmacy, msg *script.Message) (*SendResult, error)
}
