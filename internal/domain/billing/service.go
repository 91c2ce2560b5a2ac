package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careguard/careguard/internal/domain/audit"
)

// legalTransitions enumerates the claim state machine. Any non-terminal state
// may be voided.
var legalTransitions = map[string]map[string]bool{
	StatusDraft:     {StatusSubmitted: true, StatusVoid: true},
	StatusSubmitted: {StatusApproved: true, StatusDenied: true, StatusVoid: true},
	StatusApproved:  {StatusPaid: true, StatusVoid: true},
	StatusDenied:    {},
	StatusPaid:      {},
	StatusVoid:      {},
}

type Service struct {
	repo    Repository
	auditor *audit.Service
}

func NewService(repo Repository, auditor *audit.Service) *Service {
	return &Service{repo: repo, auditor: auditor}
}

func (s *Service) CreateClaim(ctx context.Context, c *Claim) error {
	if c.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if c.AmountCents <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.Status == "" {
		c.Status = StatusDraft
	}
	if c.Status != StatusDraft {
		return fmt.Errorf("claims are created in draft status")
	}
	if c.ClaimNumber == "" {
		c.ClaimNumber = fmt.Sprintf("CLM-%d", time.Now().UnixNano())
	}
	if c.ServiceStart.IsZero() {
		c.ServiceStart = time.Now().UTC()
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return err
	}
	s.record(ctx, audit.ActionCreate, c.ID)
	return nil
}

func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.repo.GetByID(ctx, id)
}

// Transition moves a claim through the state machine.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, newStatus string) (*Claim, error) {
	if _, ok := legalTransitions[newStatus]; !ok {
		return nil, fmt.Errorf("invalid status: %s", newStatus)
	}

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !legalTransitions[c.Status][newStatus] {
		return nil, fmt.Errorf("illegal status transition: %s -> %s", c.Status, newStatus)
	}

	c.Status = newStatus
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionUpdate, c.ID)
	return c, nil
}

// UpdateClaim rewrites claim details. Only draft claims may be edited.
func (s *Service) UpdateClaim(ctx context.Context, c *Claim) error {
	existing, err := s.repo.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if existing.Status != StatusDraft {
		return fmt.Errorf("only draft claims can be edited")
	}
	if c.AmountCents <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	c.PatientID = existing.PatientID
	c.ClaimNumber = existing.ClaimNumber
	c.Status = existing.Status
	c.CreatedAt = existing.CreatedAt
	if c.Currency == "" {
		c.Currency = existing.Currency
	}
	if c.ServiceStart.IsZero() {
		c.ServiceStart = existing.ServiceStart
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}
	s.record(ctx, audit.ActionUpdate, c.ID)
	return nil
}

func (s *Service) ListClaims(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*Claim, int, error) {
	return s.repo.List(ctx, patientID, status, limit, offset)
}

func (s *Service) record(ctx context.Context, action string, id uuid.UUID) {
	if s.auditor != nil {
		s.auditor.Record(ctx, audit.Record{
			Action:       action,
			ResourceType: "billing-claims",
			ResourceID:   id.String(),
			Source:       audit.SourceAPI,
		})
	}
}
