package rx

import (
	"strings"
	"testing"
)

func TestRequirementsFor(t *testing.T) {
	oxycodone := &Medication{ID: "med-1", ScheduleClass: ScheduleII}
	cream := &Medication{ID: "med-2", IsCompound: true}
	lisinopril := &Medication{ID: "med-3"}

	reqs := RequirementsFor(oxycodone, cream, lisinopril)
	if !reqs.HasControlled {
		t.Error("expected controlled requirement")
	}
	if !reqs.NeedsCompounding {
		t.Error("expected compounding requirement")
	}
	if len(reqs.Medications) != 3 {
		t.Errorf("expected 3 medications, got %d", len(reqs.Medications))
	}

	reqs = RequirementsFor(lisinopril)
	if reqs.HasControlled || reqs.NeedsCompounding {
		t.Error("plain medication should not impose requirements")
	}
}

func TestValidateCapabilityCollectsAllIssues(t *testing.T) {
	p := &Pharmacy{ID: "ph-1", Active: false}
	reqs := Requirements{HasControlled: true, NeedsCompounding: true}

	res := ValidateCapability(p, reqs)
	if res.CanFill {
		t.Fatal("expected rejection")
	}
	if len(res.Issues) != 3 {
		t.Fatalf("expected all 3 issues collected, got %d: %v", len(res.Issues), res.Issues)
	}
	joined := strings.Join(res.Issues, "; ")
	for _, want := range []string{"not active", "controlled", "compound"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected issue mentioning %q in %q", want, joined)
		}
	}
}

func TestValidateCapabilityPasses(t *testing.T) {
	p := &Pharmacy{ID: "ph-1", Active: true, CanHandleControlled: true}
	res := ValidateCapability(p, Requirements{HasControlled: true})
	if !res.CanFill {
		t.Fatalf("expected pharmacy to qualify, issues: %v", res.Issues)
	}
	if len(res.Issues) != 0 {
		t.Errorf("expected no issues, got %v", res.Issues)
	}
}
