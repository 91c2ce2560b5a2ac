package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/careguard/careguard/internal/compliance"
)

func TestComplianceFindingLog(t *testing.T) {
	ctx := context.Background()
	truncateTables(t, ctx, "compliance_findings", "compliance_remediations")
	repo := compliance.NewRepo(globalDB.Pool)

	recs := []*compliance.FindingRecord{
		{
			ID: uuid.New(), FindingID: "arn:aws:securityhub:finding/1",
			FindingType: "S3.1", Severity: "HIGH", Title: "Public bucket",
			AccountID: "123456789012", ComplianceStatus: "FAILED",
			Raw: json.RawMessage(`{"Id": "arn:aws:securityhub:finding/1"}`), CreatedAt: time.Now().UTC(),
		},
		{
			ID: uuid.New(), FindingID: "arn:aws:securityhub:finding/2",
			FindingType: "IAM.3", Severity: "MEDIUM", Title: "Stale access key",
			AccountID: "123456789012", ComplianceStatus: "FAILED",
			CreatedAt: time.Now().UTC(),
		},
	}
	for _, rec := range recs {
		if err := repo.InsertFinding(ctx, rec); err != nil {
			t.Fatalf("insert finding: %v", err)
		}
	}

	found, total, err := repo.ListFindings(ctx, compliance.FindingFilter{Severity: "HIGH"}, 10, 0)
	if err != nil {
		t.Fatalf("list findings: %v", err)
	}
	if total != 1 || found[0].FindingType != "S3.1" {
		t.Fatalf("severity filter failed: total=%d", total)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(found[0].Raw, &raw); err != nil {
		t.Fatalf("raw payload round trip: %v", err)
	}

	rem := &compliance.Remediation{
		ID:        uuid.New(),
		FindingID: recs[0].FindingID,
		Status:    compliance.StatusRemediated,
		Actions:   []string{"Blocked public access", "Enabled versioning"},
		Resource:  "phi-bucket",
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.InsertRemediation(ctx, rem); err != nil {
		t.Fatalf("insert remediation: %v", err)
	}

	rems, total, err := repo.ListRemediations(ctx, recs[0].FindingID, 10, 0)
	if err != nil {
		t.Fatalf("list remediations: %v", err)
	}
	if total != 1 || len(rems[0].Actions) != 2 {
		t.Fatalf("remediation not persisted: total=%d", total)
	}
	if rems[0].Status != compliance.StatusRemediated {
		t.Errorf("status mismatch: %s", rems[0].Status)
	}
}
