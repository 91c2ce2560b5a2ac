package deploy

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/rs/zerolog"
)

// ELBV2API is the subset of the ELBv2 client the swapper uses.
type ELBV2API interface {
	DescribeListeners(ctx context.Context, params *elbv2.DescribeListenersInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeListenersOutput, error)
	DescribeRules(ctx context.Context, params *elbv2.DescribeRulesInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeRulesOutput, error)
	DescribeTargetHealth(ctx context.Context, params *elbv2.DescribeTargetHealthInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error)
	ModifyListener(ctx context.Context, params *elbv2.ModifyListenerInput, optFns ...func(*elbv2.Options)) (*elbv2.ModifyListenerOutput, error)
}

// Swapper flips an ALB listener between its blue and green target groups.
type Swapper struct {
	client ELBV2API
	dryRun bool
	logger zerolog.Logger
}

func NewSwapper(client ELBV2API, dryRun bool, logger zerolog.Logger) *Swapper {
	return &Swapper{
		client: client,
		dryRun: dryRun,
		logger: logger.With().Str("component", "deploy").Logger(),
	}
}

// Plan records a planned or executed swap.
type Plan struct {
	ListenerARN     string `json:"listener_arn"`
	LiveTargetGroup string `json:"live_target_group"`
	IdleTargetGroup string `json:"idle_target_group"`
	HealthyTargets  int    `json:"healthy_targets"`
	Swapped         bool   `json:"swapped"`
}

// Swap resolves the live target group behind the listener, finds or takes
// the idle group, verifies it has at least one healthy target, then points
// the listener's default action at it. idleARN may be empty, in which case
// the idle group is discovered among the listener's rule targets.
func (s *Swapper) Swap(ctx context.Context, listenerARN, idleARN string) (*Plan, error) {
	live, err := s.liveTargetGroup(ctx, listenerARN)
	if err != nil {
		return nil, err
	}

	if idleARN == "" {
		idleARN, err = s.findIdleTargetGroup(ctx, listenerARN, live)
		if err != nil {
			return nil, err
		}
	}
	if idleARN == live {
		return nil, fmt.Errorf("idle target group %s is already live", idleARN)
	}

	healthy, err := s.healthyTargets(ctx, idleARN)
	if err != nil {
		return nil, err
	}
	if healthy == 0 {
		return nil, fmt.Errorf("refusing to swap: target group %s has no healthy targets", idleARN)
	}

	plan := &Plan{
		ListenerARN:     listenerARN,
		LiveTargetGroup: live,
		IdleTargetGroup: idleARN,
		HealthyTargets:  healthy,
	}

	s.logger.Info().
		Str("listener", listenerARN).
		Str("live", live).
		Str("idle", idleARN).
		Int("healthy_targets", healthy).
		Bool("dry_run", s.dryRun).
		Msg("swap planned")

	if s.dryRun {
		return plan, nil
	}

	_, err = s.client.ModifyListener(ctx, &elbv2.ModifyListenerInput{
		ListenerArn: aws.String(listenerARN),
		DefaultActions: []elbv2types.Action{{
			Type:           elbv2types.ActionTypeEnumForward,
			TargetGroupArn: aws.String(idleARN),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("modifying listener %s: %w", listenerARN, err)
	}
	plan.Swapped = true
	return plan, nil
}

// liveTargetGroup resolves the target group the listener's default forward
// action currently points at.
func (s *Swapper) liveTargetGroup(ctx context.Context, listenerARN string) (string, error) {
	out, err := s.client.DescribeListeners(ctx, &elbv2.DescribeListenersInput{
		ListenerArns: []string{listenerARN},
	})
	if err != nil {
		return "", fmt.Errorf("describing listener %s: %w", listenerARN, err)
	}
	if len(out.Listeners) == 0 {
		return "", fmt.Errorf("listener %s not found", listenerARN)
	}
	for _, action := range out.Listeners[0].DefaultActions {
		if action.Type == elbv2types.ActionTypeEnumForward && action.TargetGroupArn != nil {
			return *action.TargetGroupArn, nil
		}
	}
	return "", fmt.Errorf("listener %s has no forward default action", listenerARN)
}

// findIdleTargetGroup scans the listener's rules for a forward target other
// than the live group.
func (s *Swapper) findIdleTargetGroup(ctx context.Context, listenerARN, live string) (string, error) {
	out, err := s.client.DescribeRules(ctx, &elbv2.DescribeRulesInput{
		ListenerArn: aws.String(listenerARN),
	})
	if err != nil {
		return "", fmt.Errorf("describing rules for %s: %w", listenerARN, err)
	}
	for _, rule := range out.Rules {
		for _, action := range rule.Actions {
			if action.Type != elbv2types.ActionTypeEnumForward || action.TargetGroupArn == nil {
				continue
			}
			if *action.TargetGroupArn != live {
				return *action.TargetGroupArn, nil
			}
		}
	}
	return "", fmt.Errorf("no idle target group found behind listener %s", listenerARN)
}

func (s *Swapper) healthyTargets(ctx context.Context, targetGroupARN string) (int, error) {
	out, err := s.client.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(targetGroupARN),
	})
	if err != nil {
		return 0, fmt.Errorf("describing target health for %s: %w", targetGroupARN, err)
	}
	healthy := 0
	for _, desc := range out.TargetHealthDescriptions {
		if desc.TargetHealth != nil && desc.TargetHealth.State == elbv2types.TargetHealthStateEnumHealthy {
			healthy++
		}
	}
	return healthy, nil
}
