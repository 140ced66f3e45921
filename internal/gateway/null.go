package gateway

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NullPharmacyGateway fabricates accepted acks without touching the
// network. It exists for tests and staging only and is wired exclusively
// through an explicit simulation-mode flag in configuration, never by
// omission of credentials. A prescribing path that silently simulates
// success is a safety hazard, so construction logs loudly.
type NullPharmacyGateway struct {
	logger *zap.Logger
}

// NewNullPharmacyGateway creates the simulation double.
func NewNullPharmacyGateway(logger *zap.Logger) *NullPharmacyGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("SIMULATION MODE: pharmacy network gateway is a no-op double; no prescriptions will reach a pharmacy")
	return &NullPharmacyGateway{logger: logger}
}

// Send returns a fabricated accepted ack.
func (g *NullPharmacyGateway) Send(ctx context.Context, req *Request) (*Ack, error) {
	ack := &Ack{
		Status:    AckAccepted,
		MessageID: "SIM-" + uuid.New().String(),
		ThreadID:  "SIM-THREAD-" + uuid.New().String(),
	}
	g.logger.Warn("simulated pharmacy gateway accept",
		zap.String("ncpdp_id", req.NCPDPID),
		zap.String("message_id", req.MessageID))
	return ack, nil
}

// NullFaxGateway fabricates successful fax submissions. Same rules as
// NullPharmacyGateway: explicit simulation configuration only.
type NullFaxGateway struct {
	logger *zap.Logger
}

// NewNullFaxGateway creates the simulation double.
func NewNullFaxGateway(logger *zap.Logger) *NullFaxGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("SIMULATION MODE: fax gateway is a no-op double; no faxes will be sent")
	return &NullFaxGateway{logger: logger}
}

// SendFax returns a fabricated successful result.
func (g *NullFaxGateway) SendFax(ctx context.Context, destination string, document []byte) (*FaxResult, error) {
	result := &FaxResult{FaxID: "SIM-FAX-" + uuid.New().String(), Status: "delivered"}
	g.logger.Warn("simulated fax delivery",
		zap.String("destination", destination),
		zap.Int("document_bytes", len(document)))
	return result, nil
}
