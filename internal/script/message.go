// Package script builds the transport-neutral structured prescription
// message shared by every delivery channel, in the shape of an NCPDP SCRIPT
// NewRx payload.
package script

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Message metadata constants.
const (
	MessageTypeNewRx = "NEWRX"
	Version          = "2023011"
)

// Message is the root structured prescription message. It is rendered the
// same way regardless of whether it travels the electronic, fax, or print
// channel.
type Message struct {
	XMLName    xml.Name        `xml:"Message" json:"-"`
	Header     Header          `xml:"Header" json:"header"`
	Patient    PatientBlock    `xml:"Patient" json:"patient"`
	Prescriber PrescriberBlock `xml:"Prescriber" json:"prescriber"`
	Pharmacy   PharmacyBlock   `xml:"Pharmacy" json:"pharmacy"`
	Medication MedicationBlock `xml:"MedicationPrescribed" json:"medication"`
}

// Header identifies and routes the message.
type Header struct {
	MessageType        string `xml:"MessageType" json:"message_type"`
	Version            string `xml:"Version" json:"version"`
	MessageID          string `xml:"MessageID" json:"message_id"`
	RelatesToMessageID string `xml:"RelatesToMessageID,omitempty" json:"relates_to_message_id,omitempty"`
	SentTime           string `xml:"SentTime" json:"sent_time"`
}

// PatientBlock carries patient identity.
type PatientBlock struct {
	LastName    string `xml:"Name>LastName" json:"last_name"`
	FirstName   string `xml:"Name>FirstName" json:"first_name"`
	DateOfBirth string `xml:"DateOfBirth>Date" json:"date_of_birth"`
	MRN         string `xml:"Identification>MRN" json:"mrn"`
	Phone       string `xml:"CommunicationNumbers>PrimaryTelephone,omitempty" json:"phone,omitempty"`
	Address     string `xml:"Address,omitempty" json:"address,omitempty"`
}

// PrescriberBlock carries prescriber identity. The DEA number appears only
// when the resolved signature carries one.
type PrescriberBlock struct {
	LastName  string `xml:"Name>LastName" json:"last_name"`
	FirstName string `xml:"Name>FirstName" json:"first_name"`
	NPI       string `xml:"Identification>NPI" json:"npi"`
	DEANumber string `xml:"Identification>DEANumber,omitempty" json:"dea_number,omitempty"`
	Phone     string `xml:"CommunicationNumbers>PrimaryTelephone,omitempty" json:"phone,omitempty"`
}

// PharmacyBlock carries the destination pharmacy.
type PharmacyBlock struct {
	NCPDPID   string `xml:"Identification>NCPDPID" json:"ncpdp_id"`
	StoreName string `xml:"StoreName" json:"store_name"`
	Phone     string `xml:"CommunicationNumbers>PrimaryTelephone,omitempty" json:"phone,omitempty"`
	Fax       string `xml:"CommunicationNumbers>Fax,omitempty" json:"fax,omitempty"`
	Address   string `xml:"Address,omitempty" json:"address,omitempty"`
}

// MedicationBlock carries the prescribed medication and its fill terms.
type MedicationBlock struct {
	DrugDescription     string  `xml:"DrugDescription" json:"drug_description"`
	NDC                 string  `xml:"DrugCoded>ProductCode" json:"ndc"`
	Strength            string  `xml:"DrugCoded>Strength,omitempty" json:"strength,omitempty"`
	Form                string  `xml:"DrugCoded>FormCode,omitempty" json:"form,omitempty"`
	Quantity            float64 `xml:"Quantity>Value" json:"quantity"`
	QuantityUnit        string  `xml:"Quantity>UnitOfMeasure" json:"quantity_unit"`
	DaysSupply          int     `xml:"DaysSupply>Value" json:"days_supply"`
	Sig                 string  `xml:"Sig>SigText" json:"sig"`
	Refills             int     `xml:"Refills>Value" json:"refills"`
	ScheduleClass       string  `xml:"DrugCoded>DEASchedule,omitempty" json:"schedule_class,omitempty"`
	SubstitutionAllowed bool    `xml:"Substitutions" json:"substitution_allowed"`
	WrittenDate         string  `xml:"WrittenDate>Date" json:"written_date"`
}

// ToXML marshals the message with indentation.
func (m *Message) ToXML() ([]byte, error) {
	return xml.MarshalIndent(m, "", "  ")
}

// ToXMLCompact marshals the message without indentation.
func (m *Message) ToXMLCompact() ([]byte, error) {
	return xml.Marshal(m)
}

// FromXML unmarshals a message.
func FromXML(data []byte) (*Message, error) {
	var msg Message
	if err := xml.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal prescription message: %w", err)
	}
	return &msg, nil
}

// Validate performs basic completeness checks.
func (m *Message) Validate() error {
	if m.Header.MessageID == "" {
		return fmt.Errorf("message ID is required")
	}
	if m.Patient.LastName == "" {
		return fmt.Errorf("patient last name is required")
	}
	if m.Prescriber.NPI == "" {
		return fmt.Errorf("prescriber NPI is required")
	}
	if m.Pharmacy.NCPDPID == "" {
		return fmt.Errorf("pharmacy NCPDP ID is required")
	}
	if m.Medication.NDC == "" {
		return fmt.Errorf("medication product code (NDC) is required")
	}
	if m.Medication.Sig == "" {
		return fmt.Errorf("prescription directions (sig) are required")
	}
	if m.Medication.Quantity <= 0 {
		return fmt.Errorf("quantity is required")
	}
	return nil
}

// FormatDateTime renders t in SCRIPT datetime format (CCYYMMDDHHMMSS).
func FormatDateTime(t time.Time) string { return t.Format("20060102150405") }

// FormatDate renders t in SCRIPT date format (CCYYMMDD).
func FormatDate(t time.Time) string { return t.Format("20060102") }
