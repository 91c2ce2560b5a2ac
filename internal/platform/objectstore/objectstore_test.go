package objectstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestProcessedKey(t *testing.T) {
	ts := time.Date(2024, 3, 7, 15, 30, 0, 0, time.UTC)
	got := ProcessedKey(ts, "abc-123", "note.txt")
	want := "processed/2024/03/07/abc-123/note.txt"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestQuarantineKey(t *testing.T) {
	ts := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	got := QuarantineKey(ts, "id-9", "scan.pdf")
	want := "quarantine/2024/12/01/id-9/scan.pdf"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestMetadataKey(t *testing.T) {
	got := MetadataKey("processed/2024/03/07/abc/note.txt")
	if got != "processed/2024/03/07/abc/note.txt.metadata.json" {
		t.Errorf("got %q", got)
	}
}

func TestBaseName(t *testing.T) {
	if got := BaseName("incoming/a/b/note.txt"); got != "note.txt" {
		t.Errorf("got %q", got)
	}
	if got := BaseName("note.txt"); got != "note.txt" {
		t.Errorf("got %q", got)
	}
}

func TestEncodeTags(t *testing.T) {
	got := EncodeTags(map[string]string{"Status": "Quarantined", "RiskLevel": "HIGH"})
	if got != "RiskLevel=HIGH&Status=Quarantined" {
		t.Errorf("got %q", got)
	}
	if EncodeTags(nil) != "" {
		t.Error("expected empty string for nil tags")
	}
}

func TestInMemoryStore_PutGetDelete(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	obj := Object{
		Bucket:      "docs",
		Key:         "incoming/note.txt",
		Body:        []byte("hello"),
		ContentType: "text/plain",
		Metadata:    map[string]string{"processing-id": "abc"},
		Tags:        map[string]string{"RiskLevel": "LOW"},
	}
	if err := store.Put(ctx, obj); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "docs", "incoming/note.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Body) != "hello" || got.ContentType != "text/plain" {
		t.Errorf("unexpected object: %+v", got)
	}
	if got.Metadata["processing-id"] != "abc" {
		t.Errorf("unexpected metadata: %v", got.Metadata)
	}

	// Mutating the returned object must not affect the stored copy.
	got.Body[0] = 'X'
	got.Metadata["processing-id"] = "other"
	again, _ := store.Get(ctx, "docs", "incoming/note.txt")
	if string(again.Body) != "hello" || again.Metadata["processing-id"] != "abc" {
		t.Error("store returned a shared reference")
	}

	if err := store.Delete(ctx, "docs", "incoming/note.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "docs", "incoming/note.txt"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "docs", "incoming/note.txt"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound on second delete, got %v", err)
	}
}

func TestInMemoryStore_RequiresBucketAndKey(t *testing.T) {
	store := NewInMemoryStore()
	if err := store.Put(context.Background(), Object{Key: "k"}); err == nil {
		t.Error("expected error for missing bucket")
	}
}
