// Package service orchestrates prescription transmission: signature
// resolution, pharmacy selection, ledger bookkeeping, message building, and
// channel dispatch. All collaborators are injected at construction time.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/internal/observability/metrics"
	"github.com/carebridge/rx-transmit/internal/script"
	"github.com/carebridge/rx-transmit/pkg/idempotency"
)

// EMR reads the clinical records this subsystem consumes.
type EMR interface {
	GetMedication(ctx context.Context, id string) (*rx.Medication, error)
	GetOrder(ctx context.Context, id string) (*rx.Order, error)
	GetPatient(ctx context.Context, id string) (*rx.Patient, error)
	GetProvider(ctx context.Context, id string) (*rx.Provider, error)
}

// SignatureAuthority resolves the signature authorizing a transmission.
type SignatureAuthority interface {
	Resolve(ctx context.Context, med *rx.Medication, providerID string) (*rx.Signature, error)
}

// PharmacySelector ranks a patient's candidate pharmacies.
type PharmacySelector interface {
	SelectBest(ctx context.Context, patientID string, reqs rx.Requirements, urgency rx.Urgency) (*rx.Pharmacy, string, error)
}

// TransmissionLedger is the durable transmission record.
type TransmissionLedger interface {
	Create(ctx context.Context, t *rx.Transmission) error
	Get(ctx context.Context, id string) (*rx.Transmission, error)
	History(ctx context.Context, patientID string) ([]*rx.Transmission, error)
	Attempts(ctx context.Context, transmissionID string) ([]*rx.Attempt, error)
}

// Dispatcher sends a pending transmission through its channel strategy.
type Dispatcher interface {
	Dispatch(ctx context.Context, t *rx.Transmission, pharmacy *rx.Pharmacy, msg *script.Message) (*rx.Transmission, error)
}

// RefillApprover applies the check-and-decrement refill rule.
type RefillApprover interface {
	Approve(ctx context.Context, originalID string, newT *rx.Transmission, meta rx.RefillMetadata) (*rx.RefillRequest, error)
}

// TransmitRequest asks for a new prescription transmission. PharmacyID and
// Channel are optional: when PharmacyID is empty the selector picks the best
// candidate, and when Channel is empty the pharmacy's capabilities decide it.
// An explicit Channel forces that delivery path, e.g. a printed copy from a
// pharmacy that accepts electronic.
type TransmitRequest struct {
	OrderID    string     `json:"order_id"`
	PharmacyID string     `json:"pharmacy_id,omitempty"`
	Channel    rx.Channel `json:"channel,omitempty"`
	Urgency    rx.Urgency `json:"urgency,omitempty"`
}

// TransmitResult is the outcome of a transmit or retry call. Reasoning is
// the selector's explanation when the pharmacy was chosen automatically.
type TransmitResult struct {
	Transmission *rx.Transmission `json:"transmission"`
	Reasoning    string           `json:"selection_reasoning,omitempty"`
}

// RefillInput asks for a refill of a previously transmitted prescription.
// PharmacyID overrides the original pharmacy when set.
type RefillInput struct {
	OriginalTransmissionID string     `json:"original_transmission_id"`
	PharmacyID             string     `json:"pharmacy_id,omitempty"`
	Urgency                rx.Urgency `json:"urgency,omitempty"`
	RequestedBy            string     `json:"requested_by,omitempty"`
	Note                   string     `json:"note,omitempty"`
}

// RefillResult is the outcome of a refill request. A denial is a normal
// business outcome, not an error: Approved is false and Reason says why.
type RefillResult struct {
	Approved     bool              `json:"approved"`
	Reason       string            `json:"reason,omitempty"`
	Request      *rx.RefillRequest `json:"refill_request,omitempty"`
	Transmission *rx.Transmission  `json:"transmission,omitempty"`
}

// TransmissionService is the subsystem's exposed surface.
type TransmissionService struct {
	emr        EMR
	authority  SignatureAuthority
	selector   PharmacySelector
	directory  rx.PharmacyDirectory
	signatures rx.SignatureStore
	ledger     TransmissionLedger
	dispatcher Dispatcher
	refills    RefillApprover
	metrics    *metrics.Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// Deps bundles the service's collaborators.
type Deps struct {
	EMR        EMR
	Authority  SignatureAuthority
	Selector   PharmacySelector
	Directory  rx.PharmacyDirectory
	Signatures rx.SignatureStore
	Ledger     TransmissionLedger
	Dispatcher Dispatcher
	Refills    RefillApprover
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// New creates the transmission service.
func New(d Deps) *TransmissionService {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransmissionService{
		emr:        d.EMR,
		authority:  d.Authority,
		selector:   d.Selector,
		directory:  d.Directory,
		signatures: d.Signatures,
		ledger:     d.Ledger,
		dispatcher: d.Dispatcher,
		refills:    d.Refills,
		metrics:    d.Metrics,
		logger:     logger,
		tracer:     otel.Tracer("transmission-service"),
		now:        time.Now,
	}
}

// TransmitPrescription authorizes, routes, records, and dispatches a new
// prescription transmission.
//
// Signature resolution happens before anything touches the ledger: an order
// rejected for a missing or invalid signature leaves no transmission record.
// Once the ledger entry exists, every subsequent failure is recorded on it
// before the error is returned, so the result's Transmission is populated
// even when err is non-nil.
func (s *TransmissionService) TransmitPrescription(ctx context.Context, req TransmitRequest) (*TransmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "transmit_prescription",
		trace.WithAttributes(attribute.String("order_id", req.OrderID)))
	defer span.End()

	if req.Channel != "" && !req.Channel.Valid() {
		return nil, fmt.Errorf("channel %q: %w", req.Channel, rx.ErrInvalidChannel)
	}

	order, err := s.emr.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	med, err := s.emr.GetMedication(ctx, order.MedicationID)
	if err != nil {
		return nil, err
	}

	sig, err := s.authority.Resolve(ctx, med, order.ProviderID)
	if err != nil {
		s.logger.Warn("transmission refused at signature resolution",
			zap.String("order_id", order.ID),
			zap.String("provider_id", order.ProviderID),
			zap.Error(err))
		return nil, err
	}

	reqs := rx.RequirementsFor(med)
	pharmacy, reasoning, err := s.resolvePharmacy(ctx, req.PharmacyID, order.PatientID, reqs, req.Urgency)
	if err != nil {
		return nil, err
	}

	ch := req.Channel
	if ch == "" {
		ch = rx.DetermineChannel(pharmacy)
	}
	t := &rx.Transmission{
		ID:           uuid.New().String(),
		MedicationID: med.ID,
		OrderID:      order.ID,
		PatientID:    order.PatientID,
		ProviderID:   order.ProviderID,
		PharmacyID:   pharmacy.ID,
		Channel:      ch,
		SignatureID:  sig.ID,
	}
	if err := s.ledger.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create transmission: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TransmissionsCreated.Inc()
	}
	span.SetAttributes(
		attribute.String("transmission_id", t.ID),
		attribute.String("channel", string(t.Channel)))

	result := &TransmitResult{Transmission: t, Reasoning: reasoning}
	updated, err := s.buildAndDispatch(ctx, t, med, order, pharmacy, sig)
	if updated != nil {
		result.Transmission = updated
	}
	return result, err
}

// RetryTransmission re-dispatches a failed transmission. Delivered
// transmissions are final; retrying one is ErrInvalidTransition. The original
// signature is re-verified at retry time, so a revoked or expired signature
// blocks the retry the same way it would block a fresh transmission.
func (s *TransmissionService) RetryTransmission(ctx context.Context, id string) (*TransmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "retry_transmission",
		trace.WithAttributes(attribute.String("transmission_id", id)))
	defer span.End()

	t, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.State != rx.StateFailed {
		return nil, fmt.Errorf("transmission %s is %s, only failed transmissions can be retried: %w",
			id, t.State, rx.ErrInvalidTransition)
	}

	sig, err := s.signatures.Get(ctx, t.SignatureID)
	if err != nil {
		return nil, err
	}
	if !sig.ValidAt(s.now()) {
		return nil, fmt.Errorf("signature %s is expired or revoked: %w", sig.ID, rx.ErrSignatureInvalid)
	}

	med, err := s.emr.GetMedication(ctx, t.MedicationID)
	if err != nil {
		return nil, err
	}
	order, err := s.emr.GetOrder(ctx, t.OrderID)
	if err != nil {
		return nil, err
	}
	pharmacy, err := s.directory.Get(ctx, t.PharmacyID)
	if err != nil {
		return nil, err
	}

	result := &TransmitResult{Transmission: t}
	updated, err := s.buildAndDispatch(ctx, t, med, order, pharmacy, sig)
	if updated != nil {
		result.Transmission = updated
	}
	return result, err
}

// ProcessRefillRequest applies the refill rules against the original
// transmission and, when approved, dispatches the replacement. A denial
// (unknown original, no refills remaining) is returned as a result with
// Approved false, not as an error; the original transmission is untouched.
func (s *TransmissionService) ProcessRefillRequest(ctx context.Context, in RefillInput) (*RefillResult, error) {
	ctx, span := s.tracer.Start(ctx, "process_refill_request",
		trace.WithAttributes(attribute.String("original_transmission_id", in.OriginalTransmissionID)))
	defer span.End()

	orig, err := s.ledger.Get(ctx, in.OriginalTransmissionID)
	if errors.Is(err, rx.ErrNotFound) {
		if s.metrics != nil {
			s.metrics.RefillsDenied.WithLabelValues(denialReason(err)).Inc()
		}
		return s.denied(err), nil
	}
	if err != nil {
		return nil, err
	}

	med, err := s.emr.GetMedication(ctx, orig.MedicationID)
	if err != nil {
		return nil, err
	}
	order, err := s.emr.GetOrder(ctx, orig.OrderID)
	if err != nil {
		return nil, err
	}

	// Controlled refills re-resolve signature authority the same way a new
	// transmission does.
	sig, err := s.authority.Resolve(ctx, med, orig.ProviderID)
	if err != nil {
		return nil, err
	}

	pharmacyID := in.PharmacyID
	if pharmacyID == "" {
		pharmacyID = orig.PharmacyID
	}
	pharmacy, _, err := s.resolvePharmacy(ctx, pharmacyID, orig.PatientID, rx.RequirementsFor(med), in.Urgency)
	if err != nil {
		return nil, err
	}

	newT := &rx.Transmission{
		ID:           uuid.New().String(),
		MedicationID: orig.MedicationID,
		OrderID:      orig.OrderID,
		PatientID:    orig.PatientID,
		ProviderID:   orig.ProviderID,
		PharmacyID:   pharmacy.ID,
		Channel:      rx.DetermineChannel(pharmacy),
		SignatureID:  sig.ID,
	}
	refillReq, err := s.refills.Approve(ctx, orig.ID, newT, rx.RefillMetadata{
		RequestedBy: in.RequestedBy,
		Note:        in.Note,
	})
	if errors.Is(err, rx.ErrNoRefillsRemaining) || errors.Is(err, rx.ErrNotFound) {
		if s.metrics != nil {
			s.metrics.RefillsDenied.WithLabelValues(denialReason(err)).Inc()
		}
		return s.denied(err), nil
	}
	if err != nil {
		return nil, fmt.Errorf("process refill: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RefillsApproved.Inc()
		s.metrics.TransmissionsCreated.Inc()
	}

	result := &RefillResult{Approved: true, Request: refillReq, Transmission: newT}
	updated, err := s.buildAndDispatch(ctx, newT, med, order, pharmacy, sig)
	if updated != nil {
		result.Transmission = updated
	}
	// The refill stays approved even when dispatch fails: the decrement and
	// the pending ledger entry are already committed, and the failed
	// transmission is retryable.
	return result, err
}

// IdempotencyKeyFor derives the deterministic inbox key for a transmit
// command on orderID. Two submissions of the same clinical intent within the
// same minute produce the same key.
func (s *TransmissionService) IdempotencyKeyFor(ctx context.Context, orderID string) (string, error) {
	order, err := s.emr.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	med, err := s.emr.GetMedication(ctx, order.MedicationID)
	if err != nil {
		return "", err
	}
	provider, err := s.emr.GetProvider(ctx, order.ProviderID)
	if err != nil {
		return "", err
	}
	return idempotency.GenerateKey(provider.NPI, order.PatientID, med.NDC, s.now()), nil
}

// GetTransmission loads a single transmission by id.
func (s *TransmissionService) GetTransmission(ctx context.Context, id string) (*rx.Transmission, error) {
	return s.ledger.Get(ctx, id)
}

// GetTransmissionHistory returns a patient's transmissions in creation order.
func (s *TransmissionService) GetTransmissionHistory(ctx context.Context, patientID string) ([]*rx.Transmission, error) {
	return s.ledger.History(ctx, patientID)
}

// GetTransmissionAttempts returns the audit trail for a transmission.
func (s *TransmissionService) GetTransmissionAttempts(ctx context.Context, id string) ([]*rx.Attempt, error) {
	if _, err := s.ledger.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.Attempts(ctx, id)
}

// resolvePharmacy returns the caller's pharmacy after capability validation,
// or asks the selector when the caller did not choose one.
func (s *TransmissionService) resolvePharmacy(ctx context.Context, pharmacyID, patientID string, reqs rx.Requirements, urgency rx.Urgency) (*rx.Pharmacy, string, error) {
	if pharmacyID == "" {
		return s.selector.SelectBest(ctx, patientID, reqs, urgency)
	}

	pharmacy, err := s.directory.Get(ctx, pharmacyID)
	if err != nil {
		return nil, "", err
	}
	if res := rx.ValidateCapability(pharmacy, reqs); !res.CanFill {
		return nil, "", &rx.CapabilityError{PharmacyID: pharmacy.ID, Issues: res.Issues}
	}
	return pharmacy, "", nil
}

func (s *TransmissionService) buildAndDispatch(ctx context.Context, t *rx.Transmission, med *rx.Medication,
	order *rx.Order, pharmacy *rx.Pharmacy, sig *rx.Signature) (*rx.Transmission, error) {

	patient, err := s.emr.GetPatient(ctx, t.PatientID)
	if err != nil {
		return nil, err
	}
	provider, err := s.emr.GetProvider(ctx, t.ProviderID)
	if err != nil {
		return nil, err
	}

	msg, err := script.Build(t, med, order, patient, provider, pharmacy, sig)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.Dispatch(ctx, t, pharmacy, msg)
}

func (s *TransmissionService) denied(cause error) *RefillResult {
	s.logger.Info("refill denied", zap.Error(cause))
	return &RefillResult{Approved: false, Reason: cause.Error()}
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, rx.ErrNoRefillsRemaining):
		return "no_refills_remaining"
	case errors.Is(err, rx.ErrNotFound):
		return "original_not_found"
	default:
		return "other"
	}
}
