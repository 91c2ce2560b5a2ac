package phi

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/comprehendmedical"
	cmtypes "github.com/aws/aws-sdk-go-v2/service/comprehendmedical/types"
)

// ComprehendAPI is the subset of the Comprehend Medical client used by the
// detector. Declared locally so tests can substitute a fake.
type ComprehendAPI interface {
	DetectEntitiesV2(ctx context.Context, params *comprehendmedical.DetectEntitiesV2Input, optFns ...func(*comprehendmedical.Options)) (*comprehendmedical.DetectEntitiesV2Output, error)
	DetectPHI(ctx context.Context, params *comprehendmedical.DetectPHIInput, optFns ...func(*comprehendmedical.Options)) (*comprehendmedical.DetectPHIOutput, error)
}

// ComprehendDetector detects medical entities and PHI using Amazon
// Comprehend Medical. Both DetectEntitiesV2 and DetectPHI are called; the
// PHI results are filtered to the recognized PHI entity types and flagged.
type ComprehendDetector struct {
	client ComprehendAPI
}

// NewComprehendDetector creates a detector backed by the given client.
func NewComprehendDetector(client ComprehendAPI) *ComprehendDetector {
	return &ComprehendDetector{client: client}
}

// Detect implements Detector.
func (d *ComprehendDetector) Detect(ctx context.Context, text string) ([]Entity, error) {
	var entities []Entity

	resp, err := d.client.DetectEntitiesV2(ctx, &comprehendmedical.DetectEntitiesV2Input{
		Text: aws.String(text),
	})
	if err != nil {
		return nil, fmt.Errorf("detecting entities: %w", err)
	}
	for _, e := range resp.Entities {
		entities = append(entities, fromComprehendEntity(e, false))
	}

	phiResp, err := d.client.DetectPHI(ctx, &comprehendmedical.DetectPHIInput{
		Text: aws.String(text),
	})
	if err != nil {
		return nil, fmt.Errorf("detecting phi: %w", err)
	}
	for _, e := range phiResp.Entities {
		if !IsPHIType(string(e.Type)) {
			continue
		}
		ent := fromComprehendEntity(e, true)
		ent.Category = "PHI"
		entities = append(entities, ent)
	}

	return entities, nil
}

func fromComprehendEntity(e cmtypes.Entity, isPHI bool) Entity {
	ent := Entity{
		Category: string(e.Category),
		Type:     string(e.Type),
		IsPHI:    isPHI,
	}
	if e.Text != nil {
		ent.Text = *e.Text
	}
	if e.Score != nil {
		ent.Score = float64(*e.Score)
	}
	if e.BeginOffset != nil {
		ent.BeginOffset = int(*e.BeginOffset)
	}
	if e.EndOffset != nil {
		ent.EndOffset = int(*e.EndOffset)
	}
	for _, tr := range e.Traits {
		ent.Traits = append(ent.Traits, string(tr.Name))
	}
	return ent
}
