package rx

import "time"

// The EMR core owns medication, order, patient and provider records. This
// subsystem consumes them read-only by id; the only permitted write is the
// refill decrement on Order, performed by the refill processor.

// DEA schedule classes. Empty means non-controlled.
const (
	ScheduleII  = "II"
	ScheduleIII = "III"
	ScheduleIV  = "IV"
	ScheduleV   = "V"
)

// Medication is the read-only medication view consumed from the EMR.
type Medication struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	NDC           string `json:"ndc"`
	Strength      string `json:"strength"`
	Form          string `json:"form"`
	ScheduleClass string `json:"schedule_class,omitempty"`
	IsCompound    bool   `json:"is_compound"`
}

// IsControlled reports whether the medication carries a DEA schedule.
func (m *Medication) IsControlled() bool { return m.ScheduleClass != "" }

// Order is the read-only clinical order view consumed from the EMR.
type Order struct {
	ID                  string    `json:"id"`
	MedicationID        string    `json:"medication_id"`
	PatientID           string    `json:"patient_id"`
	ProviderID          string    `json:"provider_id"`
	Quantity            float64   `json:"quantity"`
	QuantityUnit        string    `json:"quantity_unit"`
	DaysSupply          int       `json:"days_supply"`
	RefillsRemaining    int       `json:"refills_remaining"`
	Sig                 string    `json:"sig"`
	SubstitutionAllowed bool      `json:"substitution_allowed"`
	WrittenDate         time.Time `json:"written_date"`
}

// Patient is the read-only patient view consumed from the EMR.
type Patient struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	MRN         string    `json:"mrn"`
	Phone       string    `json:"phone,omitempty"`
	Address     string    `json:"address,omitempty"`
}

// Provider is the read-only prescriber view consumed from the EMR.
type Provider struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	NPI       string `json:"npi"`
	DEANumber string `json:"dea_number,omitempty"`
	Phone     string `json:"phone,omitempty"`
}
