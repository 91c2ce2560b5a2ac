package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StepFunc executes one workflow step. It receives the current document
// (the execution input for the first step, the previous step's output after
// that) and the step's params, and returns the document for the next step.
type StepFunc func(ctx context.Context, doc json.RawMessage, params json.RawMessage) (json.RawMessage, error)

// Registry maps handler keys to step implementations.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]StepFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]StepFunc)}
}

// Register binds a handler key. Re-registering a key overwrites it.
func (r *Registry) Register(key string, fn StepFunc) {
	r.mu.Lock()
	r.handlers[key] = fn
	r.mu.Unlock()
}

func (r *Registry) get(key string) (StepFunc, bool) {
	r.mu.RLock()
	fn, ok := r.handlers[key]
	r.mu.RUnlock()
	return fn, ok
}

type Service struct {
	repo     Repository
	registry *Registry
	logger   zerolog.Logger
}

func NewService(repo Repository, registry *Registry, logger zerolog.Logger) *Service {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{repo: repo, registry: registry, logger: logger}
}

// Registry exposes the step registry so callers can add handlers.
func (s *Service) Registry() *Registry {
	return s.registry
}

// RegisterDefinition validates and stores a definition. Every step must name
// a registered handler so executions cannot fail on a typo at runtime.
func (s *Service) RegisterDefinition(ctx context.Context, d *Definition) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if _, ok := s.registry.get(step.Handler); !ok {
			return fmt.Errorf("step %d: unknown handler %q", i, step.Handler)
		}
	}
	if d.Version <= 0 {
		d.Version = 1
	}
	return s.repo.CreateDefinition(ctx, d)
}

func (s *Service) GetDefinition(ctx context.Context, id uuid.UUID) (*Definition, error) {
	return s.repo.GetDefinition(ctx, id)
}

func (s *Service) ListDefinitions(ctx context.Context, limit, offset int) ([]*Definition, int, error) {
	return s.repo.ListDefinitions(ctx, limit, offset)
}

// StartExecution runs the definition's steps in order, synchronously. The
// execution is persisted as running first so a crash mid-run leaves a record,
// then updated to succeeded or failed. A step error fails the execution with
// the step index and message recorded.
func (s *Service) StartExecution(ctx context.Context, definitionID uuid.UUID, input json.RawMessage) (*Execution, error) {
	def, err := s.repo.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	exec := &Execution{
		DefinitionID: def.ID,
		Status:       StatusRunning,
		Input:        input,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	doc := input
	for i, step := range def.Steps {
		exec.CurrentStep = i

		fn, ok := s.registry.get(step.Handler)
		if !ok {
			return s.fail(ctx, exec, fmt.Sprintf("step %d (%s): unknown handler %q", i, step.Name, step.Handler))
		}

		out, err := fn(ctx, doc, step.Params)
		if err != nil {
			return s.fail(ctx, exec, fmt.Sprintf("step %d (%s): %v", i, step.Name, err))
		}
		doc = out
	}

	now := time.Now().UTC()
	exec.Status = StatusSucceeded
	exec.Output = doc
	exec.FinishedAt = &now
	if err := s.repo.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *Service) fail(ctx context.Context, exec *Execution, msg string) (*Execution, error) {
	now := time.Now().UTC()
	exec.Status = StatusFailed
	exec.Error = &msg
	exec.FinishedAt = &now
	if err := s.repo.UpdateExecution(ctx, exec); err != nil {
		s.logger.Error().Err(err).Str("execution_id", exec.ID.String()).Msg("failed to persist execution failure")
	}
	return exec, nil
}

func (s *Service) GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	return s.repo.GetExecution(ctx, id)
}

func (s *Service) ListExecutions(ctx context.Context, definitionID uuid.UUID, status string, limit, offset int) ([]*Execution, int, error) {
	return s.repo.ListExecutions(ctx, definitionID, status, limit, offset)
}
