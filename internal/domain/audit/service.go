package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record appends a record to the trail. Failures are logged and swallowed so
// an audit outage never fails the operation being audited.
func (s *Service) Record(ctx context.Context, rec Record) {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	if rec.Source == "" {
		rec.Source = SourceAPI
	}
	if err := s.repo.Insert(ctx, &rec); err != nil {
		s.logger.Error().Err(err).
			Str("action", rec.Action).
			Str("resource_type", rec.ResourceType).
			Str("resource_id", rec.ResourceID).
			Msg("failed to write audit record")
	}
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListRecords(ctx context.Context, filter Filter, limit, offset int) ([]*Record, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}
