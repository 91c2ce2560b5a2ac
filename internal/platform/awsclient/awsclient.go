// Package awsclient centralizes construction of the AWS SDK clients used
// across the platform so every component shares one resolved configuration
// (region, credentials, endpoint overrides for local stacks).
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/comprehendmedical"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients bundles the AWS service clients the platform uses. Construct once
// at startup and pass the individual clients down to components.
type Clients struct {
	Config             aws.Config
	S3                 *s3.Client
	SQS                *sqs.Client
	SNS                *sns.Client
	CloudWatch         *cloudwatch.Client
	ComprehendMedical  *comprehendmedical.Client
	EC2                *ec2.Client
	IAM                *iam.Client
	ELBv2              *elasticloadbalancingv2.Client
}

// New resolves the default AWS configuration and constructs the client set.
// If region is non-empty it overrides the environment's region.
func New(ctx context.Context, region string) (*Clients, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Clients{
		Config:            cfg,
		S3:                s3.NewFromConfig(cfg),
		SQS:               sqs.NewFromConfig(cfg),
		SNS:               sns.NewFromConfig(cfg),
		CloudWatch:        cloudwatch.NewFromConfig(cfg),
		ComprehendMedical: comprehendmedical.NewFromConfig(cfg),
		EC2:               ec2.NewFromConfig(cfg),
		IAM:               iam.NewFromConfig(cfg),
		ELBv2:             elasticloadbalancingv2.NewFromConfig(cfg),
	}, nil
}
