// Package render turns structured prescription messages into durable
// documents for the print and fax channels.
package render

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/carebridge/rx-transmit/internal/script"
)

// PDFContentType is the MIME type of rendered documents.
const PDFContentType = "application/pdf"

// PDFRenderer renders a prescription message as a single-page PDF.
type PDFRenderer struct{}

// NewPDFRenderer creates a PDF renderer.
func NewPDFRenderer() *PDFRenderer { return &PDFRenderer{} }

// Render produces the PDF bytes for msg.
func (r *PDFRenderer) Render(msg *script.Message) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "PRESCRIPTION")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 9)
	pdf.Cell(0, 6, fmt.Sprintf("Message %s  |  %s  |  sent %s", msg.Header.MessageID, msg.Header.MessageType, msg.Header.SentTime))
	pdf.Ln(10)

	section := func(title string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.Cell(0, 7, title)
		pdf.Ln(7)
		pdf.SetFont("Helvetica", "", 10)
	}
	line := func(label, value string) {
		if value == "" {
			return
		}
		pdf.Cell(45, 6, label)
		pdf.Cell(0, 6, value)
		pdf.Ln(6)
	}

	section("Patient")
	line("Name", msg.Patient.LastName+", "+msg.Patient.FirstName)
	line("Date of Birth", msg.Patient.DateOfBirth)
	line("MRN", msg.Patient.MRN)
	line("Address", msg.Patient.Address)
	pdf.Ln(4)

	section("Prescriber")
	line("Name", msg.Prescriber.LastName+", "+msg.Prescriber.FirstName)
	line("NPI", msg.Prescriber.NPI)
	line("DEA", msg.Prescriber.DEANumber)
	line("Phone", msg.Prescriber.Phone)
	pdf.Ln(4)

	section("Pharmacy")
	line("Store", msg.Pharmacy.StoreName)
	line("NCPDP ID", msg.Pharmacy.NCPDPID)
	line("Phone", msg.Pharmacy.Phone)
	line("Fax", msg.Pharmacy.Fax)
	line("Address", msg.Pharmacy.Address)
	pdf.Ln(4)

	section("Medication")
	line("Drug", msg.Medication.DrugDescription)
	line("NDC", msg.Medication.NDC)
	line("Strength", msg.Medication.Strength)
	line("Form", msg.Medication.Form)
	line("Quantity", fmt.Sprintf("%g %s", msg.Medication.Quantity, msg.Medication.QuantityUnit))
	line("Days Supply", fmt.Sprintf("%d", msg.Medication.DaysSupply))
	line("Sig", msg.Medication.Sig)
	line("Refills", fmt.Sprintf("%d", msg.Medication.Refills))
	if msg.Medication.ScheduleClass != "" {
		line("DEA Schedule", msg.Medication.ScheduleClass)
	}
	if msg.Medication.SubstitutionAllowed {
		line("Substitution", "permitted")
	} else {
		line("Substitution", "dispense as written")
	}
	line("Written", msg.Medication.WrittenDate)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render prescription pdf: %w", err)
	}
	return buf.Bytes(), nil
}
