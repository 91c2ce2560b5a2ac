package integration

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/careguard/careguard/internal/domain/task"
)

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	truncateTables(t, ctx, "tasks")
	repo := task.NewRepo(globalDB.Pool)

	tk := &task.Task{
		Title:     "Review quarantined documents",
		Priority:  "high",
		Status:    "pending",
		UserID:    "auditor-1",
		Tags:      []string{"phi", "quarantine"},
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if err := repo.Create(ctx, tk); err != nil {
		t.Fatalf("create task: %v", err)
	}

	got, err := repo.GetByID(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if !reflect.DeepEqual(got.Tags, []string{"phi", "quarantine"}) {
		t.Errorf("tags round trip failed: %v", got.Tags)
	}

	now := time.Now()
	got.Status = "completed"
	got.CompletedAt = &now
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("update task: %v", err)
	}

	tasks, total, err := repo.ListByUser(ctx, "auditor-1", "completed", 10, 0)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if total != 1 || tasks[0].CompletedAt == nil {
		t.Fatalf("completed filter failed: total=%d", total)
	}

	if err := repo.Delete(ctx, tk.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, tk.ID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTaskExpiry(t *testing.T) {
	ctx := context.Background()
	truncateTables(t, ctx, "tasks")
	repo := task.NewRepo(globalDB.Pool)

	live := &task.Task{
		Title: "still valid", Priority: "low", Status: "pending",
		UserID: "auditor-1", ExpiresAt: time.Now().Add(time.Hour),
	}
	stale := &task.Task{
		Title: "past retention", Priority: "low", Status: "pending",
		UserID: "auditor-1", ExpiresAt: time.Now().Add(-time.Hour),
	}
	for _, tk := range []*task.Task{live, stale} {
		if err := repo.Create(ctx, tk); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	// Expired rows are invisible to reads even before the sweep.
	tasks, total, err := repo.ListByUser(ctx, "auditor-1", "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || tasks[0].ID != live.ID {
		t.Fatalf("expected only the unexpired task, got total=%d", total)
	}

	deleted, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 expired task swept, got %d", deleted)
	}
	if _, err := repo.GetByID(ctx, live.ID); err != nil {
		t.Errorf("live task should survive sweep: %v", err)
	}
}
