package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/careguard/careguard/internal/platform/phi"
)

// RegisterBuiltinSteps binds the document steps every deployment ships with.
func RegisterBuiltinSteps(r *Registry, detector phi.Detector) {
	r.Register("redact-phi", RedactPHIStep(detector))
	r.Register("assess-risk", AssessRiskStep(detector))
}

// defaultStepThreshold is the confidence above which a PHI entity counts as
// high confidence when a step carries no threshold param.
const defaultStepThreshold = 0.8

// RedactPHIStep masks every detected PHI span in the document's "text"
// field.
func RedactPHIStep(detector phi.Detector) StepFunc {
	return func(ctx context.Context, doc json.RawMessage, _ json.RawMessage) (json.RawMessage, error) {
		fields, text, err := textField(doc)
		if err != nil {
			return nil, err
		}
		entities, err := detector.Detect(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("detecting entities: %w", err)
		}
		fields["text"] = phi.Mask(text, entities)
		return json.Marshal(fields)
	}
}

// AssessRiskStep annotates the document with its PHI risk assessment. Params
// may carry {"threshold": 0.9} to override the high-confidence cutoff.
func AssessRiskStep(detector phi.Detector) StepFunc {
	return func(ctx context.Context, doc json.RawMessage, params json.RawMessage) (json.RawMessage, error) {
		fields, text, err := textField(doc)
		if err != nil {
			return nil, err
		}
		threshold := defaultStepThreshold
		if len(params) > 0 {
			var p struct {
				Threshold float64 `json:"threshold"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("parsing step params: %w", err)
			}
			if p.Threshold > 0 {
				threshold = p.Threshold
			}
		}
		entities, err := detector.Detect(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("detecting entities: %w", err)
		}
		assessment := phi.Assess(entities, threshold)
		fields["risk_level"] = string(assessment.RiskLevel)
		fields["phi_count"] = assessment.PHICount
		fields["entities_detected"] = assessment.TotalEntities
		return json.Marshal(fields)
	}
}

func textField(doc json.RawMessage) (map[string]interface{}, string, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, "", fmt.Errorf("parsing document: %w", err)
	}
	text, ok := fields["text"].(string)
	if !ok {
		return nil, "", fmt.Errorf("document has no text field")
	}
	return fields, text, nil
}
