package finops

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"
)

// Rightsizer downsizes over-provisioned instances along the t3 ladder.
// Mutations are skipped unless dry-run is explicitly disabled.
type Rightsizer struct {
	ec2    EC2API
	cw     CloudWatchAPI
	dryRun bool
	logger zerolog.Logger

	analyzer *Analyzer
}

func NewRightsizer(ec2c EC2API, cw CloudWatchAPI, dryRun bool, logger zerolog.Logger) *Rightsizer {
	return &Rightsizer{
		ec2:      ec2c,
		cw:       cw,
		dryRun:   dryRun,
		logger:   logger.With().Str("component", "rightsizer").Logger(),
		analyzer: NewAnalyzer(ec2c, cw, logger),
	}
}

// ResizePlan describes what the rightsizer decided for one instance.
type ResizePlan struct {
	InstanceID      string  `json:"instance_id"`
	CurrentType     string  `json:"current_type"`
	RecommendedType string  `json:"recommended_type"`
	AvgCPU          float64 `json:"avg_cpu"`
	Applied         bool    `json:"applied"`
}

// RecommendInstanceType maps average CPU onto the downsize ladder. An
// instance working above 50% keeps its current type.
func RecommendInstanceType(currentType string, avgCPU float64) string {
	switch {
	case avgCPU < 10:
		return "t3.micro"
	case avgCPU < 30:
		return "t3.small"
	case avgCPU < 50:
		return "t3.medium"
	default:
		return currentType
	}
}

// RightsizeInstance plans and, outside dry-run, applies a resize for one
// instance: stop, modify the type, start.
func (r *Rightsizer) RightsizeInstance(ctx context.Context, instanceID string) (*ResizePlan, error) {
	out, err := r.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("describing instance %s: %w", instanceID, err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return nil, fmt.Errorf("instance %s not found", instanceID)
	}
	inst := out.Reservations[0].Instances[0]
	currentType := string(inst.InstanceType)

	avgCPU, ok, err := r.analyzer.averageCPU(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("fetching cpu metrics for %s: %w", instanceID, err)
	}
	if !ok {
		return nil, fmt.Errorf("no utilization data for %s", instanceID)
	}

	plan := &ResizePlan{
		InstanceID:      instanceID,
		CurrentType:     currentType,
		RecommendedType: RecommendInstanceType(currentType, avgCPU),
		AvgCPU:          avgCPU,
	}
	if plan.RecommendedType == currentType {
		return plan, nil
	}

	r.logger.Info().
		Str("instance_id", instanceID).
		Str("current_type", currentType).
		Str("recommended_type", plan.RecommendedType).
		Float64("avg_cpu", avgCPU).
		Bool("dry_run", r.dryRun).
		Msg("resize planned")

	if r.dryRun {
		return plan, nil
	}

	if err := r.applyResize(ctx, instanceID, plan.RecommendedType); err != nil {
		return nil, err
	}
	plan.Applied = true
	return plan, nil
}

func (r *Rightsizer) applyResize(ctx context.Context, instanceID, newType string) error {
	if _, err := r.ec2.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{instanceID}}); err != nil {
		return fmt.Errorf("stopping %s: %w", instanceID, err)
	}
	if err := r.waitStopped(ctx, instanceID); err != nil {
		return fmt.Errorf("waiting for %s to stop: %w", instanceID, err)
	}
	_, err := r.ec2.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:   aws.String(instanceID),
		InstanceType: &ec2types.AttributeValue{Value: aws.String(newType)},
	})
	if err != nil {
		return fmt.Errorf("modifying type of %s: %w", instanceID, err)
	}
	if _, err := r.ec2.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{instanceID}}); err != nil {
		return fmt.Errorf("starting %s: %w", instanceID, err)
	}
	return nil
}

func (r *Rightsizer) waitStopped(ctx context.Context, instanceID string) error {
	waiter := ec2.NewInstanceStoppedWaiter(r.ec2)
	return waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, 5*time.Minute)
}
