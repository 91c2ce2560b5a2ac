package finops

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"
)

// EC2API is the subset of the EC2 client the analyzer and rightsizer use.
type EC2API interface {
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
}

// CloudWatchAPI is the subset of the CloudWatch client used for utilization
// metrics.
type CloudWatchAPI interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

const (
	// gp3 pricing estimate per GB-month.
	ebsGBMonthCost = 0.10
	// Rough on-demand estimate used when the exact type is unknown.
	defaultInstanceMonthlyCost = 15.0
	// Instances averaging below this CPU over the lookback are idle.
	idleCPUThreshold = 5.0
	// Lookback window for utilization metrics.
	utilizationLookback = 7 * 24 * time.Hour
)

// On-demand monthly estimates for the instance families we run.
var instanceMonthlyCost = map[string]float64{
	"t3.micro":  7.5,
	"t3.small":  15.0,
	"t3.medium": 30.0,
	"t3.large":  60.0,
	"t3.xlarge": 120.0,
}

// Analyzer scans the account for waste.
type Analyzer struct {
	ec2    EC2API
	cw     CloudWatchAPI
	logger zerolog.Logger

	now func() time.Time
}

func NewAnalyzer(ec2c EC2API, cw CloudWatchAPI, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		ec2:    ec2c,
		cw:     cw,
		logger: logger.With().Str("component", "finops").Logger(),
		now:    time.Now,
	}
}

// Analyze runs every scan and assembles the report.
func (a *Analyzer) Analyze(ctx context.Context) (*Report, error) {
	var recs []Recommendation

	volumes, err := a.FindUnattachedVolumes(ctx)
	if err != nil {
		return nil, err
	}
	recs = append(recs, volumes...)

	idle, err := a.FindIdleInstances(ctx)
	if err != nil {
		return nil, err
	}
	recs = append(recs, idle...)

	return BuildReport(recs), nil
}

// FindUnattachedVolumes flags EBS volumes in the available state. Deleting
// one recovers its full monthly cost.
func (a *Analyzer) FindUnattachedVolumes(ctx context.Context) ([]Recommendation, error) {
	out, err := a.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("status"),
			Values: []string{"available"},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("describing volumes: %w", err)
	}

	var recs []Recommendation
	for _, v := range out.Volumes {
		sizeGB := aws.ToInt32(v.Size)
		monthlyCost := float64(sizeGB) * ebsGBMonthCost
		recs = append(recs, Recommendation{
			ResourceID:       aws.ToString(v.VolumeId),
			ResourceType:     "EBS Volume",
			CurrentCost:      monthlyCost,
			PotentialSavings: monthlyCost,
			Action:           fmt.Sprintf("Delete unattached volume %s (%dGB)", aws.ToString(v.VolumeId), sizeGB),
			Priority:         PriorityMedium,
		})
	}
	return recs, nil
}

// FindIdleInstances flags running instances whose average CPU over the
// lookback window is below the idle threshold.
func (a *Analyzer) FindIdleInstances(ctx context.Context) ([]Recommendation, error) {
	out, err := a.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("instance-state-name"),
			Values: []string{"running"},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("describing instances: %w", err)
	}

	var recs []Recommendation
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			instanceID := aws.ToString(inst.InstanceId)
			avgCPU, ok, err := a.averageCPU(ctx, instanceID)
			if err != nil {
				a.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("fetching cpu metrics")
				continue
			}
			if !ok || avgCPU >= idleCPUThreshold {
				continue
			}

			monthlyCost := monthlyCostFor(string(inst.InstanceType))
			recs = append(recs, Recommendation{
				ResourceID:       instanceID,
				ResourceType:     "EC2 Instance",
				CurrentCost:      monthlyCost,
				PotentialSavings: monthlyCost * 0.8,
				Action:           fmt.Sprintf("Stop or downsize idle instance %s (avg CPU: %.1f%%)", instanceID, avgCPU),
				Priority:         PriorityHigh,
			})
		}
	}
	return recs, nil
}

// averageCPU returns the mean CPUUtilization over the lookback window. ok is
// false when CloudWatch has no datapoints for the instance.
func (a *Analyzer) averageCPU(ctx context.Context, instanceID string) (float64, bool, error) {
	end := a.now()
	out, err := a.cw.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String("AWS/EC2"),
		MetricName: aws.String("CPUUtilization"),
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String("InstanceId"),
			Value: aws.String(instanceID),
		}},
		StartTime:  aws.Time(end.Add(-utilizationLookback)),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(86400),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticAverage},
	})
	if err != nil {
		return 0, false, err
	}
	if len(out.Datapoints) == 0 {
		return 0, false, nil
	}
	var sum float64
	for _, d := range out.Datapoints {
		sum += aws.ToFloat64(d.Average)
	}
	return sum / float64(len(out.Datapoints)), true, nil
}

func monthlyCostFor(instanceType string) float64 {
	if cost, ok := instanceMonthlyCost[instanceType]; ok {
		return cost
	}
	return defaultInstanceMonthlyCost
}
