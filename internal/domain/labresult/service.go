package labresult

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careguard/careguard/internal/domain/audit"
)

// legalTransitions enumerates the allowed status moves. The machine only
// moves forward; a final result may still be amended once.
var legalTransitions = map[string]map[string]bool{
	StatusRegistered:  {StatusPreliminary: true, StatusFinal: true, StatusCancelled: true},
	StatusPreliminary: {StatusFinal: true, StatusCancelled: true},
	StatusFinal:       {StatusAmended: true},
	StatusAmended:     {},
	StatusCancelled:   {},
}

type Service struct {
	repo    Repository
	auditor *audit.Service
}

func NewService(repo Repository, auditor *audit.Service) *Service {
	return &Service{repo: repo, auditor: auditor}
}

func (s *Service) CreateResult(ctx context.Context, lr *LabResult) error {
	if lr.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if lr.TestCode == "" {
		return fmt.Errorf("test_code is required")
	}
	if lr.Status == "" {
		lr.Status = StatusRegistered
	}
	if _, ok := legalTransitions[lr.Status]; !ok {
		return fmt.Errorf("invalid status: %s", lr.Status)
	}
	if lr.EffectiveTime.IsZero() {
		lr.EffectiveTime = time.Now().UTC()
	}
	if err := s.repo.Create(ctx, lr); err != nil {
		return err
	}
	s.record(ctx, audit.ActionCreate, lr.ID)
	return nil
}

func (s *Service) GetResult(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateStatus moves a result through the status machine.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus string) (*LabResult, error) {
	if _, ok := legalTransitions[newStatus]; !ok {
		return nil, fmt.Errorf("invalid status: %s", newStatus)
	}

	lr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !legalTransitions[lr.Status][newStatus] {
		return nil, fmt.Errorf("illegal status transition: %s -> %s", lr.Status, newStatus)
	}

	lr.Status = newStatus
	if err := s.repo.Update(ctx, lr); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionUpdate, lr.ID)
	return lr, nil
}

// UpdateResult rewrites the measured values; the status is changed only
// through UpdateStatus.
func (s *Service) UpdateResult(ctx context.Context, lr *LabResult) error {
	existing, err := s.repo.GetByID(ctx, lr.ID)
	if err != nil {
		return err
	}
	lr.PatientID = existing.PatientID
	lr.Status = existing.Status
	lr.CreatedAt = existing.CreatedAt
	if lr.EffectiveTime.IsZero() {
		lr.EffectiveTime = existing.EffectiveTime
	}
	if err := s.repo.Update(ctx, lr); err != nil {
		return err
	}
	s.record(ctx, audit.ActionUpdate, lr.ID)
	return nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) SearchResults(ctx context.Context, params SearchParams, limit, offset int) ([]*LabResult, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

func (s *Service) record(ctx context.Context, action string, id uuid.UUID) {
	if s.auditor != nil {
		s.auditor.Record(ctx, audit.Record{
			Action:       action,
			ResourceType: "lab-results",
			ResourceID:   id.String(),
			Source:       audit.SourceAPI,
		})
	}
}
