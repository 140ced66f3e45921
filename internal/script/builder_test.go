package script

import (
	"strings"
	"testing"
	"time"

	"github.com/carebridge/rx-transmit/internal/domain/rx"
)

func fixtureInputs() (*rx.Transmission, *rx.Medication, *rx.Order, *rx.Patient, *rx.Provider, *rx.Pharmacy, *rx.Signature) {
	t := &rx.Transmission{ID: "tx-001", Channel: rx.ChannelElectronic}
	med := &rx.Medication{
		ID:       "med-001",
		Name:     "Lisinopril 10mg Tablet",
		NDC:      "00071-0222-23",
		Strength: "10mg",
		Form:     "tablet",
	}
	order := &rx.Order{
		ID:               "ord-001",
		Quantity:         30,
		QuantityUnit:     "EA",
		DaysSupply:       30,
		RefillsRemaining: 3,
		Sig:              "Take one tablet by mouth daily",
		WrittenDate:      time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	}
	patient := &rx.Patient{
		ID:          "pat-001",
		FirstName:   "John",
		LastName:    "Doe",
		DateOfBirth: time.Date(1980, 1, 15, 0, 0, 0, 0, time.UTC),
		MRN:         "MRN12345",
	}
	provider := &rx.Provider{
		ID:        "prov-001",
		FirstName: "Jane",
		LastName:  "Smith",
		NPI:       "1234567890",
		DEANumber: "AS1234567",
	}
	pharmacy := &rx.Pharmacy{
		ID:      "ph-001",
		Name:    "Main Street Pharmacy",
		NCPDPID: "1234567",
	}
	sig := &rx.Signature{
		ID:         "sig-001",
		ProviderID: "prov-001",
		Kind:       rx.SignatureSession,
	}
	return t, med, order, patient, provider, pharmacy, sig
}

func TestBuildMessage(t *testing.T) {
	tx, med, order, patient, provider, pharmacy, sig := fixtureInputs()

	msg, err := Build(tx, med, order, patient, provider, pharmacy, sig)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if msg.Header.MessageType != MessageTypeNewRx {
		t.Errorf("expected %s, got %s", MessageTypeNewRx, msg.Header.MessageType)
	}
	if msg.Header.MessageID == "" {
		t.Error("expected message ID")
	}
	if msg.Medication.NDC != med.NDC {
		t.Errorf("expected NDC %s, got %s", med.NDC, msg.Medication.NDC)
	}
	if msg.Medication.WrittenDate != "20260314" {
		t.Errorf("expected SCRIPT date format, got %s", msg.Medication.WrittenDate)
	}
	if msg.Patient.DateOfBirth != "19800115" {
		t.Errorf("expected SCRIPT date format, got %s", msg.Patient.DateOfBirth)
	}
}

func TestBuildDEAFromSignatureOnly(t *testing.T) {
	tx, med, order, patient, provider, pharmacy, sig := fixtureInputs()

	// Session signature: no DEA even though the provider record has one.
	msg, err := Build(tx, med, order, patient, provider, pharmacy, sig)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if msg.Prescriber.DEANumber != "" {
		t.Errorf("session-signed message must not carry a DEA number, got %s", msg.Prescriber.DEANumber)
	}

	sig.Kind = rx.SignatureExplicit
	sig.DEANumber = "AS1234567"
	msg, err = Build(tx, med, order, patient, provider, pharmacy, sig)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if msg.Prescriber.DEANumber != "AS1234567" {
		t.Errorf("expected DEA from signature, got %s", msg.Prescriber.DEANumber)
	}
}

func TestBuildRejectsIncompleteOrder(t *testing.T) {
	tx, med, order, patient, provider, pharmacy, sig := fixtureInputs()
	order.Sig = ""

	if _, err := Build(tx, med, order, patient, provider, pharmacy, sig); err == nil {
		t.Fatal("expected validation error for missing sig text")
	}

	if _, err := Build(nil, med, order, patient, provider, pharmacy, sig); err == nil {
		t.Fatal("expected error for nil transmission")
	}
}

func TestMessageXMLRoundTrip(t *testing.T) {
	tx, med, order, patient, provider, pharmacy, sig := fixtureInputs()
	msg, err := Build(tx, med, order, patient, provider, pharmacy, sig)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	data, err := msg.ToXMLCompact()
	if err != nil {
		t.Fatalf("ToXMLCompact failed: %v", err)
	}
	if !strings.Contains(string(data), "<MessageType>NEWRX</MessageType>") {
		t.Errorf("expected NEWRX message type element in %s", data)
	}

	parsed, err := FromXML(data)
	if err != nil {
		t.Fatalf("FromXML failed: %v", err)
	}
	if parsed.Header.MessageID != msg.Header.MessageID {
		t.Errorf("message ID changed across round trip: %s != %s", parsed.Header.MessageID, msg.Header.MessageID)
	}
	if parsed.Medication.Quantity != 30 {
		t.Errorf("expected quantity 30, got %v", parsed.Medication.Quantity)
	}
}
