package rx

import "fmt"

// Pharmacy holds the capability flags and contact channels of a dispensing
// pharmacy. Owned by the EMR core, consumed read-only here.
type Pharmacy struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	NCPDPID             string `json:"ncpdp_id"`
	Phone               string `json:"phone,omitempty"`
	FaxNumber           string `json:"fax_number,omitempty"`
	Address             string `json:"address,omitempty"`
	AcceptsElectronic   bool   `json:"accepts_electronic"`
	CanHandleControlled bool   `json:"can_handle_controlled"`
	CanCompound         bool   `json:"can_compound"`
	Open24Hours         bool   `json:"open_24_hours"`
	Active              bool   `json:"active"`
}

// Requirements describes what a prescription set demands from a pharmacy.
type Requirements struct {
	HasControlled    bool
	NeedsCompounding bool
	Medications      []*Medication
}

// RequirementsFor derives fill requirements from a medication set.
func RequirementsFor(meds ...*Medication) Requirements {
	r := Requirements{Medications: meds}
	for _, m := range meds {
		if m.IsControlled() {
			r.HasControlled = true
		}
		if m.IsCompound {
			r.NeedsCompounding = true
		}
	}
	return r
}

// ValidationResult is the outcome of a capability check. CanFill false is a
// rejection, not an error: the caller selects another pharmacy or surfaces
// the complete issue list.
type ValidationResult struct {
	CanFill bool     `json:"can_fill"`
	Issues  []string `json:"issues,omitempty"`
}

// ValidateCapability checks a pharmacy against a prescription's requirements.
// All failing checks are collected rather than short-circuited.
func ValidateCapability(p *Pharmacy, reqs Requirements) ValidationResult {
	var issues []string

	if !p.Active {
		issues = append(issues, fmt.Sprintf("pharmacy %s is not active", p.ID))
	}
	if reqs.HasControlled && !p.CanHandleControlled {
		issues = append(issues, "pharmacy cannot dispense controlled substances")
	}
	if reqs.NeedsCompounding && !p.CanCompound {
		issues = append(issues, "pharmacy cannot compound medications")
	}

	return ValidationResult{CanFill: len(issues) == 0, Issues: issues}
}
