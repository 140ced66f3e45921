package render

import (
	"bytes"
	"testing"

	"github.com/carebridge/rx-transmit/internal/script"
)

func TestRenderProducesPDF(t *testing.T) {
	msg := &script.Message{
		Header: script.Header{
			MessageType: script.MessageTypeNewRx,
			MessageID:   "msg-1",
			SentTime:    "20260314103000",
		},
		Patient:    script.PatientBlock{LastName: "Doe", FirstName: "John", DateOfBirth: "19800115", MRN: "MRN12345"},
		Prescriber: script.PrescriberBlock{LastName: "Smith", FirstName: "Jane", NPI: "1234567890"},
		Pharmacy:   script.PharmacyBlock{NCPDPID: "1234567", StoreName: "Main Street Pharmacy"},
		Medication: script.MedicationBlock{
			DrugDescription: "Lisinopril 10mg Tablet",
			NDC:             "00071-0222-23",
			Quantity:        30,
			QuantityUnit:    "EA",
			Sig:             "Take one tablet by mouth daily",
		},
	}

	data, err := NewPDFRenderer().Render(msg)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Errorf("expected PDF output, got leading bytes %q", data[:min(8, len(data))])
	}
	if len(data) < 500 {
		t.Errorf("suspiciously small document: %d bytes", len(data))
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
