package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"

	"github.com/careguard/careguard/internal/domain/audit"
)

// Gate decides which severities are auto-remediated. LOW and below are
// never auto-remediated.
type Gate struct {
	Critical bool
	High     bool
	Medium   bool
}

func (g Gate) Allows(severity string) bool {
	switch severity {
	case SeverityCritical:
		return g.Critical
	case SeverityHigh:
		return g.High
	case SeverityMedium:
		return g.Medium
	default:
		return false
	}
}

// Engine routes Security Hub findings to remediators and records the
// outcome of every attempt.
type Engine struct {
	repo     Repository
	s3       S3API
	ec2      EC2API
	iam      IAMAPI
	notifier SNSAPI
	auditor  *audit.Service
	gate     Gate
	topicARN string
	logger   zerolog.Logger

	// now is swappable for key-age tests.
	now func() time.Time
}

func NewEngine(repo Repository, s3c S3API, ec2c EC2API, iamc IAMAPI, notifier SNSAPI, auditor *audit.Service, gate Gate, topicARN string, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		s3:       s3c,
		ec2:      ec2c,
		iam:      iamc,
		notifier: notifier,
		auditor:  auditor,
		gate:     gate,
		topicARN: topicARN,
		logger:   logger.With().Str("component", "compliance").Logger(),
		now:      time.Now,
	}
}

// accessKeyMaxAge is the rotation deadline for IAM access keys.
const accessKeyMaxAge = 90 * 24 * time.Hour

// ProcessBatch runs every finding through the engine and publishes a
// summary notification.
func (e *Engine) ProcessBatch(ctx context.Context, findings []Finding) (*Summary, error) {
	sum := &Summary{TotalFindings: len(findings)}
	for _, f := range findings {
		rem := e.ProcessFinding(ctx, f)
		sum.Details = append(sum.Details, *rem)
		switch rem.Status {
		case StatusRemediated:
			sum.Remediated++
		case StatusSkipped:
			sum.Skipped++
		case StatusManualRequired:
			sum.ManualRequired++
		default:
			sum.Failed++
		}
	}
	e.sendSummary(ctx, sum)
	return sum, nil
}

// ProcessFinding stores the finding, applies the severity gate and runs the
// matching remediator. The returned remediation is already persisted.
func (e *Engine) ProcessFinding(ctx context.Context, f Finding) *Remediation {
	severity := f.SeverityLabel()
	e.logger.Info().
		Str("finding_id", f.ID).
		Str("finding_type", f.Type()).
		Str("severity", severity).
		Msg("processing finding")

	e.storeFinding(ctx, f, severity)

	rem := &Remediation{FindingID: f.ID}
	if !e.gate.Allows(severity) {
		rem.Status = StatusSkipped
		rem.Reason = fmt.Sprintf("auto-remediation disabled for %s severity", severity)
	} else {
		e.remediate(ctx, f, rem)
	}

	if err := e.repo.InsertRemediation(ctx, rem); err != nil {
		e.logger.Error().Err(err).Str("finding_id", f.ID).Msg("recording remediation")
	}
	if rem.Status == StatusRemediated && e.auditor != nil {
		e.auditor.Record(ctx, audit.Record{
			Actor:        "compliance-engine",
			Action:       audit.ActionRemediated,
			ResourceType: "security-findings",
			ResourceID:   f.ID,
			Source:       audit.SourceCompliance,
			Detail: map[string]interface{}{
				"finding_type": f.Type(),
				"severity":     severity,
				"resource":     rem.Resource,
				"actions":      rem.Actions,
			},
		})
	}
	return rem
}

func (e *Engine) remediate(ctx context.Context, f Finding, rem *Remediation) {
	findingType := f.Type()
	if e.s3 == nil || e.ec2 == nil || e.iam == nil {
		rem.Status = StatusManualRequired
		rem.Reason = "AWS clients not configured"
		return
	}
	var err error
	switch {
	case strings.Contains(findingType, "S3.1") || strings.Contains(findingType, "S3.8"):
		err = e.remediatePublicBucket(ctx, f, rem)
	case strings.Contains(findingType, "S3.4"):
		err = e.remediateBucketEncryption(ctx, f, rem)
	case strings.Contains(findingType, "EC2.19") || strings.Contains(findingType, "EC2.21"):
		err = e.remediateOpenIngress(ctx, f, rem)
	case strings.Contains(findingType, "IAM.3"):
		err = e.remediateStaleAccessKeys(ctx, f, rem)
	case strings.Contains(findingType, "IAM.6"):
		err = e.remediatePasswordPolicy(ctx, f, rem)
	case strings.Contains(findingType, "CloudTrail"):
		rem.Status = StatusManualRequired
		rem.Reason = "CloudTrail setup requires manual configuration"
		return
	default:
		rem.Status = StatusManualRequired
		rem.Reason = fmt.Sprintf("no auto-remediation available for %s", findingType)
		return
	}

	if err != nil {
		e.logger.Error().Err(err).Str("finding_id", f.ID).Msg("remediation failed")
		rem.Status = StatusFailed
		rem.Reason = err.Error()
		return
	}
	rem.Status = StatusRemediated
}

func (e *Engine) storeFinding(ctx context.Context, f Finding, severity string) {
	raw, err := json.Marshal(f)
	if err != nil {
		raw = nil
	}
	status := f.Compliance.Status
	if status == "" {
		status = "UNKNOWN"
	}
	err = e.repo.InsertFinding(ctx, &FindingRecord{
		FindingID:        f.ID,
		FindingType:      f.Type(),
		Severity:         severity,
		Title:            f.Title,
		AccountID:        f.AwsAccountID,
		ComplianceStatus: status,
		Raw:              raw,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("finding_id", f.ID).Msg("storing finding")
	}
}

func (e *Engine) sendSummary(ctx context.Context, sum *Summary) {
	if e.notifier == nil || e.topicARN == "" {
		return
	}
	message := fmt.Sprintf(`Security Auto-Remediation Summary

Total Findings: %d
Remediated: %d
Skipped: %d
Failed: %d
Manual Required: %d

Timestamp: %s
`, sum.TotalFindings, sum.Remediated, sum.Skipped, sum.Failed, sum.ManualRequired,
		e.now().UTC().Format(time.RFC3339))

	_, err := e.notifier.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(e.topicARN),
		Subject:  aws.String("Security Auto-Remediation Summary"),
		Message:  aws.String(message),
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("publishing remediation summary")
	}
}

func (e *Engine) notifyKeyRotation(ctx context.Context, userName, keyID string, age time.Duration) {
	if e.notifier == nil || e.topicARN == "" {
		return
	}
	message := fmt.Sprintf(`IAM Access Key Rotation Required

User: %s
Access Key: %s
Age: %d days

The key has been deactivated. Create a new access key, update applications,
then delete the old key.
`, userName, keyID, int(age.Hours()/24))

	_, err := e.notifier.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(e.topicARN),
		Subject:  aws.String("IAM Access Key Rotation Required: " + userName),
		Message:  aws.String(message),
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("user", userName).Msg("publishing key rotation notice")
	}
}
