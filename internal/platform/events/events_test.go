package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	fake := &fakeWriter{}
	p := &KafkaPublisher{writer: fake, logger: zerolog.Nop()}

	err := p.Publish(context.Background(), Event{
		Source:     "task-manager",
		DetailType: "TaskCreated",
		Detail:     map[string]string{"task_id": "t-1"},
		Time:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(fake.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.messages))
	}
	msg := fake.messages[0]
	if string(msg.Key) != "TaskCreated" {
		t.Errorf("unexpected key: %s", msg.Key)
	}

	var got Event
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Source != "task-manager" || got.DetailType != "TaskCreated" {
		t.Errorf("unexpected envelope: %+v", got)
	}
	if got.Time.IsZero() {
		t.Error("expected time to be set")
	}
}

func TestKafkaPublisher_DefaultsTime(t *testing.T) {
	fake := &fakeWriter{}
	p := &KafkaPublisher{writer: fake, logger: zerolog.Nop()}

	if err := p.Publish(context.Background(), Event{Source: "s", DetailType: "X"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var got Event
	if err := json.Unmarshal(fake.messages[0].Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Time.IsZero() {
		t.Error("expected publish to default the event time")
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}, logger: zerolog.Nop()}

	if err := p.Publish(context.Background(), Event{DetailType: "X"}); err == nil {
		t.Error("expected error when write fails")
	}
}

func TestNoopPublisher(t *testing.T) {
	if err := (NoopPublisher{}).Publish(context.Background(), Event{DetailType: "X"}); err != nil {
		t.Errorf("noop must never fail: %v", err)
	}
}
