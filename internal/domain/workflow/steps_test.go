package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/careguard/careguard/internal/platform/phi"
)

func TestRedactPHIStep(t *testing.T) {
	step := RedactPHIStep(phi.NewPatternDetector())
	doc := json.RawMessage(`{"text":"reach me at jane@example.com","source":"intake"}`)

	out, err := step(context.Background(), doc, nil)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	text := fields["text"].(string)
	if strings.Contains(text, "jane@example.com") {
		t.Fatalf("email left in text: %q", text)
	}
	if !strings.Contains(text, "[EMAIL_REDACTED]") {
		t.Fatalf("text = %q", text)
	}
	if fields["source"] != "intake" {
		t.Fatal("other fields must be preserved")
	}
}

func TestRedactPHIStepNoText(t *testing.T) {
	step := RedactPHIStep(phi.NewPatternDetector())
	if _, err := step(context.Background(), json.RawMessage(`{"body":1}`), nil); err == nil {
		t.Fatal("expected error for document without text")
	}
}

func TestAssessRiskStep(t *testing.T) {
	step := AssessRiskStep(phi.NewPatternDetector())
	doc := json.RawMessage(`{"text":"email jane@example.com, call (555) 123-4567"}`)

	out, err := step(context.Background(), doc, nil)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if fields["risk_level"] != "MEDIUM" {
		t.Fatalf("risk_level = %v", fields["risk_level"])
	}
	if fields["phi_count"].(float64) != 2 {
		t.Fatalf("phi_count = %v", fields["phi_count"])
	}
}

func TestAssessRiskStepThresholdParam(t *testing.T) {
	step := AssessRiskStep(phi.NewPatternDetector())
	doc := json.RawMessage(`{"text":"email jane@example.com"}`)

	// A threshold above the pattern detector's 0.99 score downgrades the
	// entity to low confidence.
	out, err := step(context.Background(), doc, json.RawMessage(`{"threshold":0.999}`))
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if fields["risk_level"] != "LOW" {
		t.Fatalf("risk_level = %v", fields["risk_level"])
	}
}

func TestBuiltinStepsRegistered(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltinSteps(r, phi.NewPatternDetector())
	for _, key := range []string{"redact-phi", "assess-risk"} {
		if _, ok := r.get(key); !ok {
			t.Errorf("step %s not registered", key)
		}
	}
}
