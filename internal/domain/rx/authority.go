package rx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignatureStore persists signatures and looks up a provider's latest
// explicit signature.
type SignatureStore interface {
	// LatestExplicit returns the provider's most recent explicit signature,
	// or nil when none has ever been issued.
	LatestExplicit(ctx context.Context, providerID string) (*Signature, error)
	Get(ctx context.Context, id string) (*Signature, error)
	Insert(ctx context.Context, sig *Signature) error
}

// Authority decides whether a transmission needs an explicit, DEA-linked
// signature and resolves or synthesizes one.
type Authority struct {
	store      SignatureStore
	sessionTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuthority creates a signature authority backed by store. Session
// signatures synthesized for non-controlled orders expire after sessionTTL.
func NewAuthority(store SignatureStore, sessionTTL time.Duration, logger *zap.Logger) *Authority {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Authority{store: store, sessionTTL: sessionTTL, logger: logger, now: time.Now}
}

// Resolve returns the signature authorizing med for providerID.
//
// Controlled substances require a previously issued, unexpired, unrevoked,
// DEA-linked signature; absence is ErrSignatureRequired and an unusable one
// is ErrSignatureInvalid. No implicit signature is ever substituted for a
// controlled substance. Non-controlled medications get a session signature,
// persisted so it carries the same audit weight as an explicit one.
func (a *Authority) Resolve(ctx context.Context, med *Medication, providerID string) (*Signature, error) {
	if med.IsControlled() {
		sig, err := a.store.LatestExplicit(ctx, providerID)
		if err != nil {
			return nil, fmt.Errorf("lookup signature for provider %s: %w", providerID, err)
		}
		if sig == nil {
			return nil, fmt.Errorf("provider %s has no signature on file for schedule %s medication: %w",
				providerID, med.ScheduleClass, ErrSignatureRequired)
		}
		if !sig.ValidAt(a.now()) {
			return nil, fmt.Errorf("signature %s is expired or revoked: %w", sig.ID, ErrSignatureInvalid)
		}
		if sig.DEANumber == "" {
			return nil, fmt.Errorf("signature %s lacks DEA linkage: %w", sig.ID, ErrSignatureInvalid)
		}
		return sig, nil
	}

	now := a.now()
	sig := &Signature{
		ID:         uuid.New().String(),
		ProviderID: providerID,
		Kind:       SignatureSession,
		IssuedAt:   now,
		ExpiresAt:  now.Add(a.sessionTTL),
	}
	if err := a.store.Insert(ctx, sig); err != nil {
		return nil, fmt.Errorf("record session signature: %w", err)
	}
	a.logger.Debug("session signature recorded",
		zap.String("signature_id", sig.ID),
		zap.String("provider_id", providerID))
	return sig, nil
}

// Verify re-checks a signature's expiry and revocation at call time. A false
// result is recoverable by requesting a fresh signature.
func (a *Authority) Verify(ctx context.Context, id string) (bool, error) {
	sig, err := a.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load signature %s: %w", id, err)
	}
	return sig.ValidAt(a.now()), nil
}
