package rx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Candidate pairs a pharmacy with the patient's fill history at it.
type Candidate struct {
	Pharmacy        *Pharmacy
	LastUsed        *time.Time
	FillCount       int
	FillSuccessRate float64
}

// PharmacyDirectory looks up pharmacies and a patient's candidates.
type PharmacyDirectory interface {
	Get(ctx context.Context, id string) (*Pharmacy, error)
	// Candidates returns active pharmacies ranked input for a patient,
	// including pharmacies the patient has never used.
	Candidates(ctx context.Context, patientID string) ([]*Candidate, error)
}

// Selector picks the best pharmacy when the caller did not choose one.
type Selector struct {
	dir    PharmacyDirectory
	logger *zap.Logger
}

// NewSelector creates a pharmacy selector over dir.
func NewSelector(dir PharmacyDirectory, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{dir: dir, logger: logger}
}

// SelectBest ranks the patient's candidate pharmacies and returns the best
// one plus a human-readable reasoning string. Pharmacies failing capability
// validation are never returned; when none survive, the error wraps
// ErrNoCapablePharmacy with the collected issues.
//
// Ranking: continuity with a previously used pharmacy, historical fill
// success, urgency fit (24-hour pharmacies for urgent requests), and
// electronic reachability. Ties break toward the most recently used.
func (s *Selector) SelectBest(ctx context.Context, patientID string, reqs Requirements, urgency Urgency) (*Pharmacy, string, error) {
	candidates, err := s.dir.Candidates(ctx, patientID)
	if err != nil {
		return nil, "", fmt.Errorf("list candidate pharmacies: %w", err)
	}

	type scored struct {
		c       *Candidate
		score   float64
		reasons []string
	}

	var (
		viable    []scored
		allIssues []string
	)
	for _, c := range candidates {
		res := ValidateCapability(c.Pharmacy, reqs)
		if !res.CanFill {
			for _, issue := range res.Issues {
				allIssues = append(allIssues, fmt.Sprintf("%s: %s", c.Pharmacy.ID, issue))
			}
			continue
		}

		sc := scored{c: c}
		if c.LastUsed != nil {
			sc.score += 40
			sc.reasons = append(sc.reasons, "previously used by patient")
		}
		sc.score += c.FillSuccessRate * 20
		if c.FillCount > 0 {
			sc.reasons = append(sc.reasons, fmt.Sprintf("%.0f%% historical fill success over %d fills", c.FillSuccessRate*100, c.FillCount))
		}
		if urgency == UrgencyUrgent && c.Pharmacy.Open24Hours {
			sc.score += 20
			sc.reasons = append(sc.reasons, "open 24 hours for urgent fill")
		}
		if c.Pharmacy.AcceptsElectronic {
			sc.score += 10
			sc.reasons = append(sc.reasons, "accepts electronic transmission")
		}
		viable = append(viable, sc)
	}

	if len(viable) == 0 {
		return nil, "", &CapabilityError{PharmacyID: "", Issues: allIssues}
	}

	sort.SliceStable(viable, func(i, j int) bool {
		if viable[i].score != viable[j].score {
			return viable[i].score > viable[j].score
		}
		return lastUsedAfter(viable[i].c.LastUsed, viable[j].c.LastUsed)
	})

	best := viable[0]
	reasoning := fmt.Sprintf("selected %s", best.c.Pharmacy.Name)
	if len(best.reasons) > 0 {
		reasoning += ": " + strings.Join(best.reasons, ", ")
	}
	s.logger.Debug("pharmacy selected",
		zap.String("patient_id", patientID),
		zap.String("pharmacy_id", best.c.Pharmacy.ID),
		zap.Float64("score", best.score))
	return best.c.Pharmacy, reasoning, nil
}

func lastUsedAfter(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}
