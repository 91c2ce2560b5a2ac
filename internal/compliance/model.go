package compliance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Remediation statuses.
const (
	StatusRemediated     = "REMEDIATED"
	StatusSkipped        = "SKIPPED"
	StatusFailed         = "FAILED"
	StatusManualRequired = "MANUAL_REQUIRED"
)

// Finding severity labels, highest first.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// Finding is the subset of a Security Hub ASFF finding the engine acts on.
type Finding struct {
	ID           string     `json:"Id"`
	Types        []string   `json:"Types"`
	Title        string     `json:"Title"`
	Description  string     `json:"Description"`
	AwsAccountID string     `json:"AwsAccountId"`
	Severity     Severity   `json:"Severity"`
	Compliance   Compliance `json:"Compliance"`
	Resources    []Resource `json:"Resources"`
}

type Severity struct {
	Label string `json:"Label"`
}

type Compliance struct {
	Status string `json:"Status"`
}

type Resource struct {
	Type string `json:"Type"`
	ID   string `json:"Id"`
}

// Type returns the first finding type, the key used for remediation routing.
func (f Finding) Type() string {
	if len(f.Types) == 0 {
		return "Unknown"
	}
	return f.Types[0]
}

// SeverityLabel defaults unlabeled findings to MEDIUM, matching Security
// Hub's behavior for product findings without a severity.
func (f Finding) SeverityLabel() string {
	if f.Severity.Label == "" {
		return SeverityMedium
	}
	return f.Severity.Label
}

// ResourceID extracts the bare resource identifier of the given kind from
// the finding's resource ARNs.
func (f Finding) ResourceID(kind string) (string, error) {
	for _, r := range f.Resources {
		switch kind {
		case "s3":
			if i := strings.Index(r.ID, "s3:::"); i >= 0 {
				return r.ID[i+len("s3:::"):], nil
			}
		case "security-group":
			if strings.Contains(r.ID, "security-group/") {
				parts := strings.Split(r.ID, "/")
				return parts[len(parts)-1], nil
			}
		case "iam-user":
			if strings.Contains(r.ID, ":user/") {
				parts := strings.Split(r.ID, "/")
				return parts[len(parts)-1], nil
			}
		}
	}
	return "", fmt.Errorf("no %s resource in finding %s", kind, f.ID)
}

// securityHubEvent is the EventBridge envelope carrying findings.
type securityHubEvent struct {
	Detail struct {
		Findings []Finding `json:"findings"`
	} `json:"detail"`
}

// ParseFindings accepts either an EventBridge Security Hub event or a bare
// JSON array of findings.
func ParseFindings(raw []byte) ([]Finding, error) {
	var event securityHubEvent
	if err := json.Unmarshal(raw, &event); err == nil && len(event.Detail.Findings) > 0 {
		return event.Detail.Findings, nil
	}
	var findings []Finding
	if err := json.Unmarshal(raw, &findings); err != nil {
		return nil, fmt.Errorf("parsing findings: %w", err)
	}
	return findings, nil
}

// FindingRecord maps to the compliance_findings table.
type FindingRecord struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	FindingID        string          `db:"finding_id" json:"finding_id"`
	FindingType      string          `db:"finding_type" json:"finding_type"`
	Severity         string          `db:"severity" json:"severity"`
	Title            string          `db:"title" json:"title"`
	AccountID        string          `db:"account_id" json:"account_id"`
	ComplianceStatus string          `db:"compliance_status" json:"compliance_status"`
	Raw              json.RawMessage `db:"raw" json:"raw,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Remediation maps to the compliance_remediations table.
type Remediation struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FindingID string    `db:"finding_id" json:"finding_id"`
	Status    string    `db:"status" json:"status"`
	Actions   []string  `db:"actions" json:"actions,omitempty"`
	Resource  string    `db:"resource" json:"resource,omitempty"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Summary totals one batch of processed findings.
type Summary struct {
	TotalFindings  int           `json:"total_findings"`
	Remediated     int           `json:"remediated"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	ManualRequired int           `json:"manual_required"`
	Details        []Remediation `json:"details"`
}
