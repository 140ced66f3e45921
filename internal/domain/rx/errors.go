package rx

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the transmission taxonomy. Authorization errors are
// fatal to the attempt, routing errors are recoverable by choosing another
// pharmacy or channel, and business errors are surfaced as-is.
var (
	ErrSignatureRequired   = errors.New("signature required")
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrNoCapablePharmacy   = errors.New("no capable pharmacy")
	ErrPharmacyUnreachable = errors.New("pharmacy unreachable")
	ErrNoRefillsRemaining  = errors.New("no refills remaining")
	ErrNotFound            = errors.New("not found")
	ErrGatewayTimeout      = errors.New("gateway timeout")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrInvalidChannel      = errors.New("invalid channel")
)

// CapabilityError reports a capability rejection together with the complete
// list of failing checks so the caller can present every reason at once.
type CapabilityError struct {
	PharmacyID string
	Issues     []string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("pharmacy %s cannot fill: %s", e.PharmacyID, strings.Join(e.Issues, "; "))
}

// Unwrap lets errors.Is match ErrNoCapablePharmacy.
func (e *CapabilityError) Unwrap() error { return ErrNoCapablePharmacy }

// RejectedError is returned when a pharmacy network gateway explicitly
// rejects a message. Anything other than an explicit accept is a rejection.
type RejectedError struct {
	Status string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("gateway rejected message: status %q", e.Status)
	}
	return fmt.Sprintf("gateway rejected message: status %q: %s", e.Status, e.Reason)
}
