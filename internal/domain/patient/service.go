package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careguard/careguard/internal/domain/audit"
	"github.com/careguard/careguard/internal/platform/phi"
	"github.com/careguard/careguard/internal/platform/telemetry"
)

// Valid administrative gender values.
var validGenders = map[string]bool{
	"male":    true,
	"female":  true,
	"other":   true,
	"unknown": true,
}

type Service struct {
	repo     Repository
	detector phi.Detector
	auditor  *audit.Service
	tp       *telemetry.TelemetryProvider
	logger   zerolog.Logger
}

func NewService(repo Repository, detector phi.Detector, auditor *audit.Service, tp *telemetry.TelemetryProvider, logger zerolog.Logger) *Service {
	return &Service{repo: repo, detector: detector, auditor: auditor, tp: tp, logger: logger}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.FamilyName == "" && p.GivenName == "" {
		return fmt.Errorf("at least one name part is required")
	}
	if p.Gender == "" {
		p.Gender = "unknown"
	}
	if !validGenders[p.Gender] {
		return fmt.Errorf("invalid gender: %s", p.Gender)
	}
	p.Active = true
	p.PHIDetected = s.scanForPHI(ctx, p)

	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}

	s.recordMutation(ctx, audit.ActionCreate, p.ID)
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if p.Gender != "" && !validGenders[p.Gender] {
		return fmt.Errorf("invalid gender: %s", p.Gender)
	}

	existing, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if p.Gender == "" {
		p.Gender = existing.Gender
	}
	p.CreatedAt = existing.CreatedAt
	p.PHIDetected = s.scanForPHI(ctx, p)

	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}

	s.recordMutation(ctx, audit.ActionUpdate, p.ID)
	return nil
}

// DeletePatient soft deletes: the row stays for the audit trail but reads
// treat it as absent.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.recordMutation(ctx, audit.ActionDelete, id)
	return nil
}

func (s *Service) SearchPatients(ctx context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// scanForPHI runs the detector over the identifier-bearing fields of the
// record. Detection failures are logged and treated as no detection so
// patient writes stay available when the detector is down.
func (s *Service) scanForPHI(ctx context.Context, p *Patient) bool {
	if s.detector == nil {
		return false
	}
	fields := map[string]interface{}{
		"family_name": p.FamilyName,
		"given_name":  p.GivenName,
	}
	if p.MiddleName != nil {
		fields["middle_name"] = *p.MiddleName
	}
	if len(p.Identifiers) > 0 {
		fields["identifiers"] = p.Identifiers
	}
	if len(p.Telecom) > 0 {
		fields["telecom"] = p.Telecom
	}
	if len(p.Address) > 0 {
		fields["address"] = p.Address
	}
	serialized, err := json.Marshal(fields)
	if err != nil {
		return false
	}
	entities, err := s.detector.Detect(ctx, string(serialized))
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", p.ID.String()).Msg("phi scan failed")
		return false
	}
	for _, e := range entities {
		if e.IsPHI {
			return true
		}
	}
	return false
}

func (s *Service) recordMutation(ctx context.Context, action string, id uuid.UUID) {
	if s.auditor != nil {
		s.auditor.Record(ctx, audit.Record{
			Action:       action,
			ResourceType: "patients",
			ResourceID:   id.String(),
			Source:       audit.SourceAPI,
		})
	}
	if s.tp != nil {
		s.tp.ResourceOperationCounter("patients", strings.ToLower(action))
	}
}
