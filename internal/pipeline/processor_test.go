package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careguard/careguard/internal/domain/audit"
	"github.com/careguard/careguard/internal/platform/objectstore"
	"github.com/careguard/careguard/internal/platform/phi"
)

type stubDetector struct {
	entities []phi.Entity
	err      error
}

func (d *stubDetector) Detect(_ context.Context, _ string) ([]phi.Entity, error) {
	return d.entities, d.err
}

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

type mockAuditRepo struct {
	records []*audit.Record
}

func (m *mockAuditRepo) Insert(_ context.Context, rec *audit.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *mockAuditRepo) GetByID(_ context.Context, id uuid.UUID) (*audit.Record, error) {
	return nil, errors.New("not found")
}

func (m *mockAuditRepo) List(_ context.Context, _ audit.Filter, _, _ int) ([]*audit.Record, int, error) {
	return m.records, len(m.records), nil
}

func phiEntity(typ string, score float64, begin, end int) phi.Entity {
	return phi.Entity{Type: typ, Score: score, BeginOffset: begin, EndOffset: end, IsPHI: true}
}

func highRiskEntities() []phi.Entity {
	out := make([]phi.Entity, 0, 6)
	for i := 0; i < 6; i++ {
		out = append(out, phiEntity("NAME", 0.95, i*2, i*2+1))
	}
	return out
}

type testEnv struct {
	store     *objectstore.InMemoryStore
	detector  *stubDetector
	sns       *fakeSNS
	auditRepo *mockAuditRepo
	processor *Processor
}

func newTestEnv(entities []phi.Entity) *testEnv {
	env := &testEnv{
		store:     objectstore.NewInMemoryStore(),
		detector:  &stubDetector{entities: entities},
		sns:       &fakeSNS{},
		auditRepo: &mockAuditRepo{},
	}
	auditor := audit.NewService(env.auditRepo, zerolog.Nop())
	env.processor = NewProcessor(env.store, env.detector, auditor, nil, env.sns, Config{
		ProcessedBucket:  "processed-bucket",
		QuarantineBucket: "quarantine-bucket",
		PIIThreshold:     0.8,
		SNSTopicARN:      "arn:aws:sns:us-east-1:123456789012:alerts",
	}, zerolog.Nop())
	return env
}

func seed(t *testing.T, env *testEnv, body string) {
	t.Helper()
	err := env.store.Put(context.Background(), objectstore.Object{
		Bucket:      "raw-bucket",
		Key:         "uploads/note.txt",
		Body:        []byte(body),
		ContentType: "text/plain",
	})
	if err != nil {
		t.Fatalf("seeding object: %v", err)
	}
}

func TestProcessCleanDocument(t *testing.T) {
	env := newTestEnv(nil)
	seed(t, env, "no phi here")

	res, err := env.processor.Process(context.Background(), "raw-bucket", "uploads/note.txt")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.RiskLevel != phi.RiskMinimal {
		t.Fatalf("risk = %s, want MINIMAL", res.RiskLevel)
	}
	if res.Quarantined {
		t.Fatal("clean document was quarantined")
	}
	if !strings.HasPrefix(res.DestinationKey, "processed/") {
		t.Fatalf("destination key = %q", res.DestinationKey)
	}
	if !strings.HasSuffix(res.DestinationKey, "/note.txt") {
		t.Fatalf("destination key = %q, want .../note.txt", res.DestinationKey)
	}

	obj, err := env.store.Get(context.Background(), "processed-bucket", res.DestinationKey)
	if err != nil {
		t.Fatalf("fetching processed object: %v", err)
	}
	if string(obj.Body) != "no phi here" {
		t.Fatalf("body = %q", obj.Body)
	}
	if len(env.sns.inputs) != 0 {
		t.Fatal("alert published for clean document")
	}
}

func TestProcessMasksAndWritesSidecar(t *testing.T) {
	text := "pt john, mrn 723341"
	env := newTestEnv([]phi.Entity{phiEntity("NAME", 0.6, 3, 7)})
	seed(t, env, text)

	res, err := env.processor.Process(context.Background(), "raw-bucket", "uploads/note.txt")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.RiskLevel != phi.RiskLow {
		t.Fatalf("risk = %s, want LOW", res.RiskLevel)
	}

	obj, err := env.store.Get(context.Background(), "processed-bucket", res.DestinationKey)
	if err != nil {
		t.Fatalf("fetching processed object: %v", err)
	}
	if !strings.Contains(string(obj.Body), "[NAME_REDACTED]") {
		t.Fatalf("body not masked: %q", obj.Body)
	}
	if strings.Contains(string(obj.Body), "john") {
		t.Fatalf("phi left in body: %q", obj.Body)
	}
	if obj.Metadata["original-key"] != "uploads/note.txt" {
		t.Fatalf("metadata = %v", obj.Metadata)
	}

	meta, err := env.store.Get(context.Background(), "processed-bucket", objectstore.MetadataKey(res.DestinationKey))
	if err != nil {
		t.Fatalf("fetching sidecar: %v", err)
	}
	var sc sidecar
	if err := json.Unmarshal(meta.Body, &sc); err != nil {
		t.Fatalf("decoding sidecar: %v", err)
	}
	if sc.ProcessingID != res.ProcessingID {
		t.Fatalf("sidecar processing id = %q, want %q", sc.ProcessingID, res.ProcessingID)
	}
	if len(sc.EntitiesDetected) != 1 || sc.EntitiesDetected[0].Type != "NAME" {
		t.Fatalf("sidecar entities = %+v", sc.EntitiesDetected)
	}
}

func TestProcessQuarantinesHighRisk(t *testing.T) {
	env := newTestEnv(highRiskEntities())
	seed(t, env, "aa bb cc dd ee ff gg")

	res, err := env.processor.Process(context.Background(), "raw-bucket", "uploads/note.txt")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.RiskLevel != phi.RiskHigh || !res.Quarantined {
		t.Fatalf("result = %+v, want quarantined HIGH", res)
	}
	if !strings.HasPrefix(res.DestinationKey, "quarantine/") {
		t.Fatalf("destination key = %q", res.DestinationKey)
	}

	obj, err := env.store.Get(context.Background(), "quarantine-bucket", res.DestinationKey)
	if err != nil {
		t.Fatalf("fetching quarantined object: %v", err)
	}
	if string(obj.Body) != "aa bb cc dd ee ff gg" {
		t.Fatal("quarantined body must not be masked")
	}
	if obj.Metadata["risk-level"] != "HIGH" || obj.Metadata["original-bucket"] != "raw-bucket" {
		t.Fatalf("metadata = %v", obj.Metadata)
	}
	if obj.Tags["RiskLevel"] != "HIGH" || obj.Tags["Status"] != "Quarantined" {
		t.Fatalf("tags = %v", obj.Tags)
	}

	// Nothing lands in the processed bucket.
	if _, err := env.store.Get(context.Background(), "processed-bucket", res.DestinationKey); err == nil {
		t.Fatal("high risk document also written to processed bucket")
	}
}

func TestProcessAlertsOnHighRisk(t *testing.T) {
	env := newTestEnv(highRiskEntities())
	seed(t, env, "aa bb cc dd ee ff gg")

	res, err := env.processor.Process(context.Background(), "raw-bucket", "uploads/note.txt")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(env.sns.inputs) != 1 {
		t.Fatalf("published %d alerts, want 1", len(env.sns.inputs))
	}
	in := env.sns.inputs[0]
	wantSubject := "HIGH RISK PHI DETECTED - Processing ID: " + res.ProcessingID
	if aws.ToString(in.Subject) != wantSubject {
		t.Fatalf("subject = %q, want %q", aws.ToString(in.Subject), wantSubject)
	}
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &body); err != nil {
		t.Fatalf("decoding alert: %v", err)
	}
	if body["alert_type"] != "HIGH_PHI_RISK" {
		t.Fatalf("alert_type = %v", body["alert_type"])
	}
	if body["processing_id"] != res.ProcessingID {
		t.Fatalf("processing_id = %v", body["processing_id"])
	}
}

func TestProcessMediumRiskQuarantinedNoAlert(t *testing.T) {
	env := newTestEnv([]phi.Entity{phiEntity("EMAIL", 0.95, 0, 5)})
	seed(t, env, "x@y.z in note")

	res, err := env.processor.Process(context.Background(), "raw-bucket", "uploads/note.txt")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.RiskLevel != phi.RiskMedium || !res.Quarantined {
		t.Fatalf("result = %+v, want quarantined MEDIUM", res)
	}
	if len(env.sns.inputs) != 0 {
		t.Fatal("alert published for medium risk")
	}
}

func TestProcessWritesAuditRecord(t *testing.T) {
	env := newTestEnv(highRiskEntities())
	seed(t, env, "aa bb cc dd ee ff gg")

	res, err := env.processor.Process(context.Background(), "raw-bucket", "uploads/note.txt")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(env.auditRepo.records) != 1 {
		t.Fatalf("recorded %d audit entries, want 1", len(env.auditRepo.records))
	}
	rec := env.auditRepo.records[0]
	if rec.Action != audit.ActionQuarantined {
		t.Fatalf("action = %q, want QUARANTINED", rec.Action)
	}
	if rec.Source != audit.SourcePipeline {
		t.Fatalf("source = %q, want pipeline", rec.Source)
	}
	if rec.ResourceID != res.ProcessingID {
		t.Fatalf("resource id = %q", rec.ResourceID)
	}
	if rec.PHICount != 6 || rec.RiskLevel != "HIGH" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestProcessDetectionFailure(t *testing.T) {
	env := newTestEnv(nil)
	env.detector.err = errors.New("comprehend unavailable")
	seed(t, env, "some text")

	if _, err := env.processor.Process(context.Background(), "raw-bucket", "uploads/note.txt"); err == nil {
		t.Fatal("expected error when detection fails")
	}
	if len(env.auditRepo.records) != 0 {
		t.Fatal("audit record written for failed processing")
	}
}

func TestProcessMissingObject(t *testing.T) {
	env := newTestEnv(nil)
	if _, err := env.processor.Process(context.Background(), "raw-bucket", "missing.txt"); err == nil {
		t.Fatal("expected error for missing object")
	}
}

func TestProcessAlertFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(highRiskEntities())
	env.sns.err = errors.New("sns down")
	seed(t, env, "aa bb cc dd ee ff gg")

	if _, err := env.processor.Process(context.Background(), "raw-bucket", "uploads/note.txt"); err != nil {
		t.Fatalf("Process: %v", err)
	}
}
