package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{rx.ErrInvalidChannel, http.StatusBadRequest},
		{rx.ErrNotFound, http.StatusNotFound},
		{rx.ErrSignatureRequired, http.StatusUnprocessableEntity},
		{rx.ErrSignatureInvalid, http.StatusUnprocessableEntity},
		{rx.ErrNoCapablePharmacy, http.StatusUnprocessableEntity},
		{rx.ErrNoRefillsRemaining, http.StatusConflict},
		{rx.ErrInvalidTransition, http.StatusConflict},
		{rx.ErrGatewayTimeout, http.StatusGatewayTimeout},
		{rx.ErrPharmacyUnreachable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestStatusForWrappedErrors(t *testing.T) {
	err := fmt.Errorf("transmit order ord-1: %w",
		&rx.CapabilityError{PharmacyID: "ph-1", Issues: []string{"pharmacy cannot dispense controlled substances"}})
	if got := statusFor(err); got != http.StatusUnprocessableEntity {
		t.Errorf("capability rejection should map to 422, got %d", got)
	}

	err = fmt.Errorf("electronic channel send after 30s: %w", rx.ErrGatewayTimeout)
	if got := statusFor(err); got != http.StatusGatewayTimeout {
		t.Errorf("wrapped timeout should map to 504, got %d", got)
	}
}
