package rx

import "time"

// SignatureKind distinguishes explicit prescriber signatures from the
// session-authenticated signatures synthesized for non-controlled orders.
type SignatureKind string

const (
	// SignatureExplicit is a prescriber-issued authorization event. Required
	// for controlled substances, where it must carry a DEA number.
	SignatureExplicit SignatureKind = "explicit"
	// SignatureSession is synthesized from an authenticated session. Equal in
	// audit weight to an explicit signature but never DEA-linked, so never
	// acceptable for a controlled substance.
	SignatureSession SignatureKind = "session"
)

// Signature represents a prescriber authorization event.
type Signature struct {
	ID         string        `json:"id"`
	ProviderID string        `json:"provider_id"`
	Kind       SignatureKind `json:"kind"`
	DEANumber  string        `json:"dea_number,omitempty"`
	IssuedAt   time.Time     `json:"issued_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	Revoked    bool          `json:"revoked"`
}

// ValidAt reports whether the signature is usable at t: issued, unexpired,
// and not revoked.
func (s *Signature) ValidAt(t time.Time) bool {
	if s.Revoked {
		return false
	}
	if t.Before(s.IssuedAt) {
		return false
	}
	return t.Before(s.ExpiresAt)
}
