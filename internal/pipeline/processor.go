package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careguard/careguard/internal/domain/audit"
	"github.com/careguard/careguard/internal/platform/objectstore"
	"github.com/careguard/careguard/internal/platform/phi"
	"github.com/careguard/careguard/internal/platform/telemetry"
)

// SNSAPI is the subset of the SNS client the pipeline uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config carries the pipeline destinations and thresholds.
type Config struct {
	ProcessedBucket  string
	QuarantineBucket string
	PIIThreshold     float64
	SNSTopicARN      string
}

// Processor runs a single document through detection, risk assessment and
// routing to the processed or quarantine bucket.
type Processor struct {
	store    objectstore.Store
	detector phi.Detector
	auditor  *audit.Service
	metrics  *telemetry.CloudWatchPublisher
	alerts   SNSAPI
	cfg      Config
	logger   zerolog.Logger
}

// NewProcessor wires a processor. auditor, metrics and alerts may be nil;
// the corresponding steps become no-ops.
func NewProcessor(store objectstore.Store, detector phi.Detector, auditor *audit.Service, metrics *telemetry.CloudWatchPublisher, alerts SNSAPI, cfg Config, logger zerolog.Logger) *Processor {
	return &Processor{
		store:    store,
		detector: detector,
		auditor:  auditor,
		metrics:  metrics,
		alerts:   alerts,
		cfg:      cfg,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// Result describes what the pipeline did with a document.
type Result struct {
	ProcessingID     string        `json:"processing_id"`
	OriginalBucket   string        `json:"original_bucket"`
	OriginalKey      string        `json:"original_key"`
	RiskLevel        phi.RiskLevel `json:"risk_level"`
	Quarantined      bool          `json:"quarantined"`
	DestinationKey   string        `json:"destination_key"`
	EntitiesDetected int           `json:"entities_detected"`
	PHICount         int           `json:"phi_count"`
}

// sidecar is the metadata document written next to each processed object.
type sidecar struct {
	ProcessingID     string       `json:"processing_id"`
	OriginalBucket   string       `json:"original_bucket"`
	OriginalKey      string       `json:"original_key"`
	EntitiesDetected []phi.Entity `json:"entities_detected"`
	ProcessedDate    string       `json:"processed_date"`
}

// Process fetches the object, detects PHI and routes it. A returned error
// means the work was not completed and the message should be redelivered.
func (p *Processor) Process(ctx context.Context, bucket, key string) (*Result, error) {
	start := time.Now()

	obj, err := p.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
	}

	entities, err := p.detector.Detect(ctx, string(obj.Body))
	if err != nil {
		return nil, fmt.Errorf("detecting entities in s3://%s/%s: %w", bucket, key, err)
	}

	assessment := phi.Assess(entities, p.cfg.PIIThreshold)
	processingID := uuid.New().String()
	now := time.Now().UTC()

	res := &Result{
		ProcessingID:     processingID,
		OriginalBucket:   bucket,
		OriginalKey:      key,
		RiskLevel:        assessment.RiskLevel,
		EntitiesDetected: assessment.TotalEntities,
		PHICount:         assessment.PHICount,
	}

	switch assessment.RiskLevel {
	case phi.RiskHigh, phi.RiskMedium:
		res.Quarantined = true
		res.DestinationKey, err = p.quarantine(ctx, obj, processingID, now, assessment)
	default:
		res.DestinationKey, err = p.storeProcessed(ctx, obj, entities, processingID, now)
	}
	if err != nil {
		return nil, err
	}

	p.recordAudit(ctx, res, time.Since(start))
	p.publishMetrics(ctx, assessment)

	if assessment.RiskLevel == phi.RiskHigh {
		p.alertHighRisk(ctx, res, assessment)
	}

	p.logger.Info().
		Str("processing_id", processingID).
		Str("bucket", bucket).
		Str("key", key).
		Str("risk_level", string(assessment.RiskLevel)).
		Bool("quarantined", res.Quarantined).
		Int("phi_count", assessment.PHICount).
		Msg("document processed")

	return res, nil
}

func (p *Processor) quarantine(ctx context.Context, obj *objectstore.Object, processingID string, now time.Time, assessment phi.Assessment) (string, error) {
	key := objectstore.QuarantineKey(now, processingID, objectstore.BaseName(obj.Key))
	err := p.store.Put(ctx, objectstore.Object{
		Bucket:      p.cfg.QuarantineBucket,
		Key:         key,
		Body:        obj.Body,
		ContentType: obj.ContentType,
		Metadata: map[string]string{
			"processing-id":   processingID,
			"original-bucket": obj.Bucket,
			"original-key":    obj.Key,
			"risk-level":      string(assessment.RiskLevel),
			"quarantine-date": now.Format(time.RFC3339),
		},
		Tags: map[string]string{
			"RiskLevel": string(assessment.RiskLevel),
			"Status":    "Quarantined",
		},
	})
	if err != nil {
		return "", fmt.Errorf("quarantining s3://%s/%s: %w", obj.Bucket, obj.Key, err)
	}
	return key, nil
}

func (p *Processor) storeProcessed(ctx context.Context, obj *objectstore.Object, entities []phi.Entity, processingID string, now time.Time) (string, error) {
	masked := phi.Mask(string(obj.Body), entities)
	key := objectstore.ProcessedKey(now, processingID, objectstore.BaseName(obj.Key))

	err := p.store.Put(ctx, objectstore.Object{
		Bucket:      p.cfg.ProcessedBucket,
		Key:         key,
		Body:        []byte(masked),
		ContentType: obj.ContentType,
		Metadata: map[string]string{
			"processing-id": processingID,
			"original-key":  obj.Key,
		},
	})
	if err != nil {
		return "", fmt.Errorf("storing processed s3://%s/%s: %w", obj.Bucket, obj.Key, err)
	}

	meta, err := json.Marshal(sidecar{
		ProcessingID:     processingID,
		OriginalBucket:   obj.Bucket,
		OriginalKey:      obj.Key,
		EntitiesDetected: entities,
		ProcessedDate:    now.Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling sidecar for %s: %w", key, err)
	}

	err = p.store.Put(ctx, objectstore.Object{
		Bucket:      p.cfg.ProcessedBucket,
		Key:         objectstore.MetadataKey(key),
		Body:        meta,
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("storing sidecar for %s: %w", key, err)
	}
	return key, nil
}

// recordAudit is best effort. The audit service already swallows store
// failures, so a broken trail never blocks document processing.
func (p *Processor) recordAudit(ctx context.Context, res *Result, elapsed time.Duration) {
	if p.auditor == nil {
		return
	}
	action := audit.ActionProcessed
	if res.Quarantined {
		action = audit.ActionQuarantined
	}
	p.auditor.Record(ctx, audit.Record{
		Actor:            "pipeline",
		Action:           action,
		ResourceType:     "documents",
		ResourceID:       res.ProcessingID,
		Source:           audit.SourcePipeline,
		RiskLevel:        string(res.RiskLevel),
		EntitiesDetected: res.EntitiesDetected,
		PHICount:         res.PHICount,
		DurationMS:       elapsed.Milliseconds(),
		Detail: map[string]interface{}{
			"original_bucket": res.OriginalBucket,
			"original_key":    res.OriginalKey,
			"destination_key": res.DestinationKey,
		},
	})
}

func (p *Processor) publishMetrics(ctx context.Context, assessment phi.Assessment) {
	if p.metrics == nil {
		return
	}
	dims := map[string]string{"RiskLevel": string(assessment.RiskLevel)}
	p.metrics.Count(ctx, "EntitiesDetected", float64(assessment.TotalEntities), dims)
	p.metrics.Count(ctx, "PHICount", float64(assessment.PHICount), dims)
	p.metrics.Value(ctx, "RiskLevel", riskScore(assessment.RiskLevel), nil)
}

func riskScore(level phi.RiskLevel) float64 {
	switch level {
	case phi.RiskHigh:
		return 3
	case phi.RiskMedium:
		return 2
	case phi.RiskLow:
		return 1
	default:
		return 0
	}
}

func (p *Processor) alertHighRisk(ctx context.Context, res *Result, assessment phi.Assessment) {
	if p.alerts == nil || p.cfg.SNSTopicARN == "" {
		return
	}
	body, err := json.Marshal(map[string]interface{}{
		"alert_type":        "HIGH_PHI_RISK",
		"processing_id":     res.ProcessingID,
		"original_bucket":   res.OriginalBucket,
		"original_key":      res.OriginalKey,
		"risk_level":        string(res.RiskLevel),
		"entities_detected": res.EntitiesDetected,
		"phi_count":         res.PHICount,
		"phi_types":         assessment.PHITypes,
		"quarantine_key":    res.DestinationKey,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("marshaling high risk alert")
		return
	}
	_, err = p.alerts.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.cfg.SNSTopicARN),
		Subject:  aws.String("HIGH RISK PHI DETECTED - Processing ID: " + res.ProcessingID),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("processing_id", res.ProcessingID).Msg("publishing high risk alert")
	}
}
