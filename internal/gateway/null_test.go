package gateway

import (
	"context"
	"strings"
	"testing"
)

func TestNullPharmacyGatewayAccepts(t *testing.T) {
	gw := NewNullPharmacyGateway(nil)

	ack, err := gw.Send(context.Background(), &Request{NCPDPID: "1234567", MessageID: "msg-1"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if ack.Status != AckAccepted {
		t.Errorf("expected accepted ack, got %s", ack.Status)
	}
	if !strings.HasPrefix(ack.MessageID, "SIM-") {
		t.Errorf("simulated acks must be marked, got %q", ack.MessageID)
	}
}

func TestNullFaxGatewayDelivers(t *testing.T) {
	gw := NewNullFaxGateway(nil)

	result, err := gw.SendFax(context.Background(), "555-0100", []byte("doc"))
	if err != nil {
		t.Fatalf("SendFax failed: %v", err)
	}
	if !strings.HasPrefix(result.FaxID, "SIM-FAX-") {
		t.Errorf("simulated fax IDs must be marked, got %q", result.FaxID)
	}
}
