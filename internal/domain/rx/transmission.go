// Package rx implements the prescription transmission domain: delivery
// channels, the transmission lifecycle, signature authority, and pharmacy
// capability rules.
package rx

import (
	"encoding/json"
	"time"
)

// Channel identifies how a prescription reaches the pharmacy.
type Channel string

const (
	ChannelElectronic Channel = "electronic"
	ChannelPrint      Channel = "print"
	ChannelFax        Channel = "fax"
)

// Valid reports whether c is a known delivery channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelElectronic, ChannelPrint, ChannelFax:
		return true
	}
	return false
}

// State represents the lifecycle state of a transmission.
type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
	StatePrinted State = "printed"
	StateFaxed   State = "faxed"
	StateFailed  State = "failed"
)

// Delivered reports whether the transmission reached the pharmacy on some
// channel. Delivered states are terminal.
func (s State) Delivered() bool {
	return s == StateSent || s == StatePrinted || s == StateFaxed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Delivered states accept no further transitions, and nothing ever moves
// back to pending. A failed transmission may be re-dispatched by an explicit
// caller decision, so failed -> delivered and failed -> failed are allowed.
func (s State) CanTransition(next State) bool {
	if s.Delivered() {
		return false
	}
	if next == StatePending {
		return false
	}
	switch s {
	case StatePending, StateFailed:
		return next.Delivered() || next == StateFailed
	}
	return false
}

// Urgency is the caller-supplied priority of a transmission request.
type Urgency string

const (
	UrgencyRoutine Urgency = "routine"
	UrgencyUrgent  Urgency = "urgent"
)

// Transmission is one prescription delivery attempt chain. A transmission is
// created pending, dispatched, and ends in exactly one of the delivered
// states or failed. Payloads hold the latest attempt; the full attempt
// history is kept in the ledger's audit trail.
type Transmission struct {
	ID           string          `json:"id"`
	MedicationID string          `json:"medication_id"`
	OrderID      string          `json:"order_id"`
	PatientID    string          `json:"patient_id"`
	ProviderID   string          `json:"provider_id"`
	PharmacyID   string          `json:"pharmacy_id"`
	Channel      Channel         `json:"channel"`
	State        State           `json:"state"`
	SignatureID  string          `json:"signature_id"`
	RetryCount   int             `json:"retry_count"`
	Request      json.RawMessage `json:"request_payload,omitempty"`
	Response     json.RawMessage `json:"response_payload,omitempty"`
	ErrorDetail  string          `json:"error_detail,omitempty"`
	GatewayMsgID string          `json:"gateway_message_id,omitempty"`
	GatewayThrID string          `json:"gateway_thread_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Attempt is one audit-trail entry: a single dispatch of a transmission with
// the exact payloads exchanged. Attempts are append-only.
type Attempt struct {
	ID             int64           `json:"id"`
	TransmissionID string          `json:"transmission_id"`
	Seq            int             `json:"seq"`
	State          State           `json:"state"`
	Request        json.RawMessage `json:"request_payload,omitempty"`
	Response       json.RawMessage `json:"response_payload,omitempty"`
	ErrorDetail    string          `json:"error_detail,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// DetermineChannel picks the delivery channel for a pharmacy: electronic
// when the pharmacy accepts it, else fax when a fax number is on file, else
// print. Pure decision, independent of dispatch.
func DetermineChannel(p *Pharmacy) Channel {
	if p.AcceptsElectronic {
		return ChannelElectronic
	}
	if p.FaxNumber != "" {
		return ChannelFax
	}
	return ChannelPrint
}
