package rx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeDirectory struct {
	candidates []*Candidate
	err        error
}

func (f *fakeDirectory) Get(ctx context.Context, id string) (*Pharmacy, error) {
	for _, c := range f.candidates {
		if c.Pharmacy.ID == id {
			return c.Pharmacy, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeDirectory) Candidates(ctx context.Context, patientID string) ([]*Candidate, error) {
	return f.candidates, f.err
}

func TestSelectBestPrefersContinuity(t *testing.T) {
	lastWeek := time.Now().Add(-7 * 24 * time.Hour)
	dir := &fakeDirectory{candidates: []*Candidate{
		{Pharmacy: &Pharmacy{ID: "ph-new", Name: "New Pharmacy", Active: true, AcceptsElectronic: true}},
		{
			Pharmacy:        &Pharmacy{ID: "ph-home", Name: "Home Pharmacy", Active: true},
			LastUsed:        &lastWeek,
			FillCount:       12,
			FillSuccessRate: 0.9,
		},
	}}

	best, reasoning, err := NewSelector(dir, nil).SelectBest(context.Background(), "pat-1", Requirements{}, UrgencyRoutine)
	if err != nil {
		t.Fatalf("SelectBest failed: %v", err)
	}
	if best.ID != "ph-home" {
		t.Errorf("expected previously used pharmacy, got %s", best.ID)
	}
	if !strings.Contains(reasoning, "previously used") {
		t.Errorf("expected continuity in reasoning, got %q", reasoning)
	}
}

func TestSelectBestUrgencyFavorsAllNight(t *testing.T) {
	dir := &fakeDirectory{candidates: []*Candidate{
		{Pharmacy: &Pharmacy{ID: "ph-day", Name: "Daytime", Active: true, AcceptsElectronic: true}},
		{Pharmacy: &Pharmacy{ID: "ph-247", Name: "All Night", Active: true, Open24Hours: true}},
	}}
	sel := NewSelector(dir, nil)

	best, _, err := sel.SelectBest(context.Background(), "pat-1", Requirements{}, UrgencyUrgent)
	if err != nil {
		t.Fatalf("SelectBest failed: %v", err)
	}
	if best.ID != "ph-247" {
		t.Errorf("urgent request should pick the 24-hour pharmacy, got %s", best.ID)
	}

	best, _, err = sel.SelectBest(context.Background(), "pat-1", Requirements{}, UrgencyRoutine)
	if err != nil {
		t.Fatalf("SelectBest failed: %v", err)
	}
	if best.ID != "ph-day" {
		t.Errorf("routine request should pick the electronic pharmacy, got %s", best.ID)
	}
}

func TestSelectBestSkipsIncapable(t *testing.T) {
	dir := &fakeDirectory{candidates: []*Candidate{
		{Pharmacy: &Pharmacy{ID: "ph-retail", Name: "Retail", Active: true, AcceptsElectronic: true}},
		{Pharmacy: &Pharmacy{ID: "ph-ctrl", Name: "Full Service", Active: true, CanHandleControlled: true}},
	}}

	best, _, err := NewSelector(dir, nil).SelectBest(context.Background(), "pat-1", Requirements{HasControlled: true}, UrgencyRoutine)
	if err != nil {
		t.Fatalf("SelectBest failed: %v", err)
	}
	if best.ID != "ph-ctrl" {
		t.Errorf("expected controlled-capable pharmacy, got %s", best.ID)
	}
}

func TestSelectBestNoViableCandidates(t *testing.T) {
	dir := &fakeDirectory{candidates: []*Candidate{
		{Pharmacy: &Pharmacy{ID: "ph-1", Active: true}},
		{Pharmacy: &Pharmacy{ID: "ph-2", Active: false}},
	}}

	_, _, err := NewSelector(dir, nil).SelectBest(context.Background(), "pat-1", Requirements{HasControlled: true}, UrgencyRoutine)
	if !errors.Is(err, ErrNoCapablePharmacy) {
		t.Fatalf("expected ErrNoCapablePharmacy, got %v", err)
	}

	var capErr *CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapabilityError, got %T", err)
	}
	if len(capErr.Issues) < 2 {
		t.Errorf("expected issues from every rejected pharmacy, got %v", capErr.Issues)
	}
}

func TestSelectBestTieBreaksOnRecency(t *testing.T) {
	older := time.Now().Add(-30 * 24 * time.Hour)
	newer := time.Now().Add(-2 * 24 * time.Hour)
	dir := &fakeDirectory{candidates: []*Candidate{
		{Pharmacy: &Pharmacy{ID: "ph-old", Name: "Old", Active: true}, LastUsed: &older},
		{Pharmacy: &Pharmacy{ID: "ph-recent", Name: "Recent", Active: true}, LastUsed: &newer},
	}}

	best, _, err := NewSelector(dir, nil).SelectBest(context.Background(), "pat-1", Requirements{}, UrgencyRoutine)
	if err != nil {
		t.Fatalf("SelectBest failed: %v", err)
	}
	if best.ID != "ph-recent" {
		t.Errorf("expected most recently used pharmacy on tie, got %s", best.ID)
	}
}
