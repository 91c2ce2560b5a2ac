package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/careguard/careguard/internal/domain/billing"
	"github.com/careguard/careguard/internal/domain/labresult"
)

func strPtr(s string) *string { return &s }

func TestLabResultsByPatient(t *testing.T) {
	ctx := context.Background()
	truncateTables(t, ctx, "patients")
	repo := labresult.NewRepo(globalDB.Pool)

	p := createTestPatient(t, ctx, "Nguyen", "Linh")
	other := createTestPatient(t, ctx, "Nguyen", "Thao")

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, code := range []string{"718-7", "2345-7", "2160-0"} {
		lr := &labresult.LabResult{
			PatientID:     p.ID,
			TestCode:      code,
			TestName:      "panel item " + code,
			Value:         "5.0",
			Unit:          strPtr("mmol/L"),
			Status:        "final",
			EffectiveTime: base.Add(time.Duration(i) * time.Hour),
		}
		if err := repo.Create(ctx, lr); err != nil {
			t.Fatalf("create lab result: %v", err)
		}
	}
	if err := repo.Create(ctx, &labresult.LabResult{
		PatientID: other.ID, TestCode: "718-7", TestName: "hemoglobin",
		Value: "13.2", Status: "final", EffectiveTime: base,
	}); err != nil {
		t.Fatalf("create other patient result: %v", err)
	}

	results, total, err := repo.ListByPatient(ctx, p.ID, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(results) != 3 {
		t.Fatalf("expected 3 results for patient, got total=%d len=%d", total, len(results))
	}
	// Newest first.
	if !results[0].EffectiveTime.After(results[2].EffectiveTime) {
		t.Errorf("results not ordered by effective_time desc")
	}

	filtered, total, err := repo.Search(ctx, labresult.SearchParams{TestCode: "718-7"}, 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 hemoglobin results across patients, got %d", total)
	}
	for _, lr := range filtered {
		if lr.TestCode != "718-7" {
			t.Errorf("filter leaked test code %s", lr.TestCode)
		}
	}
}

func TestBillingClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	truncateTables(t, ctx, "patients")
	repo := billing.NewRepo(globalDB.Pool)

	p := createTestPatient(t, ctx, "Imani", "Zuri")

	claim := &billing.Claim{
		PatientID:    p.ID,
		ClaimNumber:  "CLM-2026-0001",
		AmountCents:  125000,
		Currency:     "USD",
		Status:       "submitted",
		ServiceStart: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		Payer:        strPtr("Acme Health"),
	}
	if err := repo.Create(ctx, claim); err != nil {
		t.Fatalf("create claim: %v", err)
	}

	// claim_number is unique
	dup := *claim
	dup.ID = uuid.Nil
	if err := repo.Create(ctx, &dup); err == nil {
		t.Error("expected unique violation on duplicate claim number")
	}

	claim.Status = "paid"
	if err := repo.Update(ctx, claim); err != nil {
		t.Fatalf("update claim: %v", err)
	}

	claims, total, err := repo.List(ctx, p.ID, "paid", 10, 0)
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	if total != 1 || claims[0].Status != "paid" {
		t.Fatalf("status filter failed: total=%d", total)
	}
	if claims[0].AmountCents != 125000 {
		t.Errorf("amount mismatch: %d", claims[0].AmountCents)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
