package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careguard/careguard/internal/platform/events"
	"github.com/careguard/careguard/internal/platform/telemetry"
)

// Event detail types published by the task service.
const (
	EventTaskCreated   = "TaskCreated"
	EventTaskUpdated   = "TaskUpdated"
	EventTaskCompleted = "TaskCompleted"
)

const eventSource = "task-manager"

var validPriorities = map[string]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
}

var validStatuses = map[string]bool{
	StatusPending:    true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusCancelled:  true,
}

type Service struct {
	repo      Repository
	publisher events.Publisher
	metrics   *telemetry.CloudWatchPublisher
	logger    zerolog.Logger
}

func NewService(repo Repository, publisher events.Publisher, metrics *telemetry.CloudWatchPublisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{repo: repo, publisher: publisher, metrics: metrics, logger: logger}
}

func (s *Service) CreateTask(ctx context.Context, t *Task) error {
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if t.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if !validPriorities[t.Priority] {
		return fmt.Errorf("invalid priority: %s", t.Priority)
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if !validStatuses[t.Status] {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	now := time.Now().UTC()
	t.ExpiresAt = now.Add(Retention)

	if err := s.repo.Create(ctx, t); err != nil {
		return err
	}

	s.publish(ctx, EventTaskCreated, t)
	return nil
}

func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateTask applies the caller-editable fields. A transition into completed
// publishes TaskCompleted exactly once and records the completion duration.
func (s *Service) UpdateTask(ctx context.Context, id uuid.UUID, in UpdateInput) (*Task, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	completing := false
	if in.Status != nil {
		if !validStatuses[*in.Status] {
			return nil, fmt.Errorf("invalid status: %s", *in.Status)
		}
		completing = *in.Status == StatusCompleted && t.Status != StatusCompleted
		t.Status = *in.Status
	}
	if in.Title != nil {
		if *in.Title == "" {
			return nil, fmt.Errorf("title cannot be empty")
		}
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Priority != nil {
		if !validPriorities[*in.Priority] {
			return nil, fmt.Errorf("invalid priority: %s", *in.Priority)
		}
		t.Priority = *in.Priority
	}
	if in.Tags != nil {
		t.Tags = in.Tags
	}
	if completing {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}

	s.publish(ctx, EventTaskUpdated, t)
	if completing {
		s.publish(ctx, EventTaskCompleted, t)
		s.recordCompletion(ctx, t)
	}
	return t, nil
}

func (s *Service) DeleteTask(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListTasks(ctx context.Context, userID, status string, limit, offset int) ([]*Task, int, error) {
	if status != "" && !validStatuses[status] {
		return nil, 0, fmt.Errorf("invalid status: %s", status)
	}
	return s.repo.ListByUser(ctx, userID, status, limit, offset)
}

// PurgeExpired deletes tasks past their retention window.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("purged", n).Msg("expired tasks removed")
	}
	return n, nil
}

// StartPurgeLoop runs PurgeExpired on the given interval until ctx is
// cancelled. Intended to run on its own goroutine alongside the server.
func (s *Service) StartPurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeExpired(ctx); err != nil {
				s.logger.Error().Err(err).Msg("purging expired tasks")
			}
		}
	}
}

// publish is best effort; a broker outage never fails the request.
func (s *Service) publish(ctx context.Context, detailType string, t *Task) {
	err := s.publisher.Publish(ctx, events.Event{
		Source:     eventSource,
		DetailType: detailType,
		Detail: map[string]interface{}{
			"task_id":  t.ID.String(),
			"user_id":  t.UserID,
			"status":   t.Status,
			"priority": t.Priority,
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("detail_type", detailType).Msg("event publish failed")
	}
}

func (s *Service) recordCompletion(ctx context.Context, t *Task) {
	if t.CompletedAt == nil {
		return
	}
	hours := t.CompletedAt.Sub(t.CreatedAt).Hours()
	s.metrics.Value(ctx, "TaskCompletionTime", hours, map[string]string{"Priority": t.Priority})
}
