// Package phi detects and redacts protected health information in free-text
// clinical content. Detection is backed by Amazon Comprehend Medical in
// production and by an offline pattern detector for development and tests.
package phi

import (
	"context"
	"fmt"
	"sort"
)

// Entity is a single detected entity with its span in the source text.
type Entity struct {
	Text        string   `json:"text"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	Score       float64  `json:"score"`
	BeginOffset int      `json:"begin_offset"`
	EndOffset   int      `json:"end_offset"`
	IsPHI       bool     `json:"is_phi,omitempty"`
	Traits      []string `json:"traits,omitempty"`
}

// Detector analyzes text and returns the entities found in it.
type Detector interface {
	Detect(ctx context.Context, text string) ([]Entity, error)
}

// RiskLevel classifies how much PHI exposure a document carries.
type RiskLevel string

const (
	RiskHigh    RiskLevel = "HIGH"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskLow     RiskLevel = "LOW"
	RiskMinimal RiskLevel = "MINIMAL"
)

// phiEntityTypes are the entity types treated as PHI.
var phiEntityTypes = map[string]bool{
	"NAME":         true,
	"AGE":          true,
	"ID":           true,
	"EMAIL":        true,
	"URL":          true,
	"ADDRESS":      true,
	"PROFESSION":   true,
	"PHONE_OR_FAX": true,
	"DATE":         true,
}

// IsPHIType reports whether the given entity type counts as PHI.
func IsPHIType(entityType string) bool {
	return phiEntityTypes[entityType]
}

// Assessment summarizes the PHI exposure of a document.
type Assessment struct {
	RiskLevel         RiskLevel `json:"risk_level"`
	TotalEntities     int       `json:"total_entities"`
	PHICount          int       `json:"phi_count"`
	HighConfidencePHI int       `json:"high_confidence_phi"`
	PHITypes          []string  `json:"phi_types"`
}

// Assess derives a risk assessment from the detected entities. threshold is
// the confidence score above which a PHI entity counts as high confidence.
func Assess(entities []Entity, threshold float64) Assessment {
	phiCount := 0
	highConfidence := 0
	typeSet := map[string]bool{}

	for _, e := range entities {
		if !e.IsPHI {
			continue
		}
		phiCount++
		typeSet[e.Type] = true
		if e.Score >= threshold {
			highConfidence++
		}
	}

	var level RiskLevel
	switch {
	case highConfidence > 5:
		level = RiskHigh
	case highConfidence > 0 || phiCount > 10:
		level = RiskMedium
	case phiCount > 0:
		level = RiskLow
	default:
		level = RiskMinimal
	}

	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)

	return Assessment{
		RiskLevel:         level,
		TotalEntities:     len(entities),
		PHICount:          phiCount,
		HighConfidencePHI: highConfidence,
		PHITypes:          types,
	}
}

// Mask replaces each PHI entity span in text with a [TYPE_REDACTED] marker.
// Entities are applied in descending begin-offset order so earlier offsets
// stay valid while later spans are rewritten. A span overlapping an
// already-masked region is clipped to its unmasked remainder so no part of
// a detected span survives in the output.
func Mask(text string, entities []Entity) string {
	spans := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.IsPHI {
			spans = append(spans, e)
		}
	}
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].BeginOffset > spans[j].BeginOffset
	})

	masked := text
	lastStart := len(text) + 1
	for _, e := range spans {
		if e.BeginOffset < 0 || e.EndOffset > len(text) || e.BeginOffset >= e.EndOffset {
			continue
		}
		end := e.EndOffset
		// Clip spans that run into a region already rewritten.
		if end > lastStart {
			end = lastStart
		}
		if e.BeginOffset >= end {
			continue
		}
		mask := fmt.Sprintf("[%s_REDACTED]", e.Type)
		masked = masked[:e.BeginOffset] + mask + masked[end:]
		lastStart = e.BeginOffset
	}
	return masked
}
