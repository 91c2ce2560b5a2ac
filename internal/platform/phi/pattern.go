package phi

import (
	"context"
	"regexp"
)

// patternRule pairs a PHI entity type with the regex that recognizes it.
type patternRule struct {
	entityType string
	re         *regexp.Regexp
}

// patternRules are checked in order; earlier rules win on overlapping spans
// (the masking step skips overlaps).
var patternRules = []patternRule{
	{"EMAIL", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"PHONE_OR_FAX", regexp.MustCompile(`\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}`)},
	{"ID", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},                  // SSN
	{"ID", regexp.MustCompile(`\bMRN[:\s]*\d{6,10}\b`)},                  // medical record number
	{"URL", regexp.MustCompile(`https?://[^\s]+`)},
	{"DATE", regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)},
	{"DATE", regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)},
}

// PatternDetector is an offline Detector backed by regular expressions. It
// covers the structured PHI shapes (emails, phone numbers, SSNs, MRNs, URLs,
// dates) and is used in development mode and as a fallback when Comprehend
// Medical is unavailable. Pattern matches are reported with score 0.99.
type PatternDetector struct{}

// NewPatternDetector creates an offline detector.
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{}
}

// Detect implements Detector.
func (d *PatternDetector) Detect(_ context.Context, text string) ([]Entity, error) {
	var entities []Entity
	for _, rule := range patternRules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			entities = append(entities, Entity{
				Text:        text[loc[0]:loc[1]],
				Category:    "PHI",
				Type:        rule.entityType,
				Score:       0.99,
				BeginOffset: loc[0],
				EndOffset:   loc[1],
				IsPHI:       true,
			})
		}
	}
	return entities, nil
}
