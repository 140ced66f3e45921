// Package handlers provides HTTP handlers for the transmission API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/carebridge/rx-transmit/internal/api/middleware"
	"github.com/carebridge/rx-transmit/internal/domain/rx"
	"github.com/carebridge/rx-transmit/internal/service"
	"github.com/carebridge/rx-transmit/pkg/idempotency"
)

// TransmissionHandler handles transmission endpoints
type TransmissionHandler struct {
	svc    *service.TransmissionService
	inbox  *idempotency.Inbox
	logger *zap.Logger
}

// NewTransmissionHandler creates a new handler. inbox may be nil, which
// disables request deduplication (tests, tooling).
func NewTransmissionHandler(svc *service.TransmissionService, inbox *idempotency.Inbox, logger *zap.Logger) *TransmissionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransmissionHandler{svc: svc, inbox: inbox, logger: logger}
}

// Routes returns the handler routes
func (h *TransmissionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/transmissions", h.Transmit)
	r.Get("/transmissions/{id}", h.Get)
	r.Get("/transmissions/{id}/attempts", h.GetAttempts)
	r.Post("/transmissions/{id}/retry", h.Retry)
	r.Post("/refills", h.Refill)
	r.Get("/patients/{patientID}/transmissions", h.History)
	return r
}

// Transmit handles POST /transmissions
func (h *TransmissionHandler) Transmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("transmission-handler")
	ctx, span := tracer.Start(ctx, "transmit_prescription")
	defer span.End()

	var req service.TransmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" {
		h.jsonError(w, "order_id is required", http.StatusBadRequest)
		return
	}
	if req.Channel != "" && !req.Channel.Valid() {
		h.jsonError(w, "unknown channel: "+string(req.Channel), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("order_id", req.OrderID))

	if h.inbox == nil {
		result, err := h.svc.TransmitPrescription(ctx, req)
		h.writeTransmitResult(w, result, err)
		return
	}

	key := r.Header.Get("X-Idempotency-Key")
	if key == "" {
		var err error
		key, err = h.svc.IdempotencyKeyFor(ctx, req.OrderID)
		if err != nil {
			h.writeError(w, err)
			return
		}
	}

	payload, _ := json.Marshal(req)
	var svcErr error
	procResult, err := h.inbox.Process(ctx, key, "transmit_prescription", payload,
		func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			result, terr := h.svc.TransmitPrescription(ctx, req)
			if terr != nil && result == nil {
				return nil, terr
			}
			// A dispatch failure still produced a ledger entry; store the
			// result so a duplicate submission sees the failed transmission
			// instead of dispatching again.
			svcErr = terr
			return json.Marshal(result)
		})
	if err != nil {
		if errors.Is(err, idempotency.ErrMessageInProgress) {
			h.jsonError(w, "request already in progress", http.StatusConflict)
			return
		}
		h.writeError(w, err)
		return
	}

	var result service.TransmitResult
	if err := json.Unmarshal(procResult.Result, &result); err != nil {
		h.jsonError(w, "corrupt stored result", http.StatusInternalServerError)
		return
	}
	if !procResult.IsNew {
		h.logger.Info("duplicate transmit request",
			zap.String("order_id", req.OrderID),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		h.writeJSON(w, http.StatusOK, &result)
		return
	}
	h.writeTransmitResult(w, &result, svcErr)
}

// Get handles GET /transmissions/{id}
func (h *TransmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTransmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// GetAttempts handles GET /transmissions/{id}/attempts
func (h *TransmissionHandler) GetAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.svc.GetTransmissionAttempts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if attempts == nil {
		attempts = []*rx.Attempt{}
	}
	h.writeJSON(w, http.StatusOK, attempts)
}

// Retry handles POST /transmissions/{id}/retry
func (h *TransmissionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RetryTransmission(r.Context(), chi.URLParam(r, "id"))
	h.writeTransmitResult(w, result, err)
}

// Refill handles POST /refills
func (h *TransmissionHandler) Refill(w http.ResponseWriter, r *http.Request) {
	var in service.RefillInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if in.OriginalTransmissionID == "" {
		h.jsonError(w, "original_transmission_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.svc.ProcessRefillRequest(r.Context(), in)
	if err != nil && result == nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if result != nil && !result.Approved {
		status = http.StatusOK
	}
	if err != nil {
		// Approved but dispatch failed: surface the delivery failure status
		// while still returning the approved refill and its ledger entry.
		status = statusFor(err)
	}
	h.writeJSON(w, status, result)
}

// History handles GET /patients/{patientID}/transmissions
func (h *TransmissionHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.GetTransmissionHistory(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if history == nil {
		history = []*rx.Transmission{}
	}
	h.writeJSON(w, http.StatusOK, history)
}

// writeTransmitResult writes a transmit/retry outcome. When dispatch failed
// the ledger entry is included in the body alongside the error so clients
// can see the recorded failure and decide on a retry.
func (h *TransmissionHandler) writeTransmitResult(w http.ResponseWriter, result *service.TransmitResult, err error) {
	if err != nil {
		if result == nil || result.Transmission == nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, statusFor(err), map[string]any{
			"error":        err.Error(),
			"transmission": result.Transmission,
		})
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *TransmissionHandler) writeError(w http.ResponseWriter, err error) {
	h.jsonError(w, err.Error(), statusFor(err))
}

// statusFor maps the transmission error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rx.ErrInvalidChannel):
		return http.StatusBadRequest
	case errors.Is(err, rx.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rx.ErrSignatureRequired),
		errors.Is(err, rx.ErrSignatureInvalid),
		errors.Is(err, rx.ErrNoCapablePharmacy):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rx.ErrNoRefillsRemaining),
		errors.Is(err, rx.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, rx.ErrGatewayTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, rx.ErrPharmacyUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *TransmissionHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *TransmissionHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
