package compliance

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// remediatePublicBucket locks down a publicly accessible bucket: block
// public access, default encryption, versioning.
func (e *Engine) remediatePublicBucket(ctx context.Context, f Finding, rem *Remediation) error {
	bucket, err := f.ResourceID("s3")
	if err != nil {
		return err
	}
	rem.Resource = bucket

	_, err = e.s3.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: aws.String(bucket),
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(true),
			IgnorePublicAcls:      aws.Bool(true),
			BlockPublicPolicy:     aws.Bool(true),
			RestrictPublicBuckets: aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("blocking public access on %s: %w", bucket, err)
	}
	rem.Actions = append(rem.Actions, "Blocked public access")

	if err := e.putDefaultEncryption(ctx, bucket); err != nil {
		// The bucket may already carry a policy-enforced encryption config.
		e.logger.Warn().Err(err).Str("bucket", bucket).Msg("enabling default encryption")
	} else {
		rem.Actions = append(rem.Actions, "Enabled encryption")
	}

	_, err = e.s3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucket),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	})
	if err != nil {
		return fmt.Errorf("enabling versioning on %s: %w", bucket, err)
	}
	rem.Actions = append(rem.Actions, "Enabled versioning")
	return nil
}

func (e *Engine) remediateBucketEncryption(ctx context.Context, f Finding, rem *Remediation) error {
	bucket, err := f.ResourceID("s3")
	if err != nil {
		return err
	}
	rem.Resource = bucket

	if err := e.putDefaultEncryption(ctx, bucket); err != nil {
		return fmt.Errorf("enabling default encryption on %s: %w", bucket, err)
	}
	rem.Actions = append(rem.Actions, "Enabled default encryption (AES256)")
	return nil
}

func (e *Engine) putDefaultEncryption(ctx context.Context, bucket string) error {
	_, err := e.s3.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(bucket),
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3types.ServerSideEncryptionAes256,
				},
				BucketKeyEnabled: aws.Bool(true),
			}},
		},
	})
	return err
}

// remediateOpenIngress revokes 0.0.0.0/0 ingress on SSH and RDP. A missing
// rule is not an error.
func (e *Engine) remediateOpenIngress(ctx context.Context, f Finding, rem *Remediation) error {
	groupID, err := f.ResourceID("security-group")
	if err != nil {
		return err
	}
	rem.Resource = groupID

	for _, port := range []int32{22, 3389} {
		_, err := e.ec2.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId: aws.String(groupID),
			IpPermissions: []ec2types.IpPermission{{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(port),
				ToPort:     aws.Int32(port),
				IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			}},
		})
		if err != nil {
			if isPermissionNotFound(err) {
				continue
			}
			return fmt.Errorf("revoking 0.0.0.0/0:%d on %s: %w", port, groupID, err)
		}
		rem.Actions = append(rem.Actions, fmt.Sprintf("Removed open ingress (0.0.0.0/0:%d)", port))
	}
	return nil
}

func isPermissionNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidPermission.NotFound"
}

// remediateStaleAccessKeys deactivates access keys older than 90 days and
// notifies the owner to rotate.
func (e *Engine) remediateStaleAccessKeys(ctx context.Context, f Finding, rem *Remediation) error {
	userName, err := f.ResourceID("iam-user")
	if err != nil {
		return err
	}
	rem.Resource = userName

	out, err := e.iam.ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: aws.String(userName)})
	if err != nil {
		return fmt.Errorf("listing access keys for %s: %w", userName, err)
	}

	for _, key := range out.AccessKeyMetadata {
		if key.CreateDate == nil || key.AccessKeyId == nil {
			continue
		}
		age := e.now().Sub(*key.CreateDate)
		if age <= accessKeyMaxAge {
			continue
		}
		_, err := e.iam.UpdateAccessKey(ctx, &iam.UpdateAccessKeyInput{
			UserName:    aws.String(userName),
			AccessKeyId: key.AccessKeyId,
			Status:      iamtypes.StatusTypeInactive,
		})
		if err != nil {
			return fmt.Errorf("deactivating key %s: %w", aws.ToString(key.AccessKeyId), err)
		}
		rem.Actions = append(rem.Actions,
			fmt.Sprintf("Deactivated access key %s (age: %d days)", aws.ToString(key.AccessKeyId), int(age.Hours()/24)))
		e.notifyKeyRotation(ctx, userName, aws.ToString(key.AccessKeyId), age)
	}
	return nil
}

// remediatePasswordPolicy enforces the CIS account password policy.
func (e *Engine) remediatePasswordPolicy(ctx context.Context, _ Finding, rem *Remediation) error {
	rem.Resource = "AWS Account"
	_, err := e.iam.UpdateAccountPasswordPolicy(ctx, &iam.UpdateAccountPasswordPolicyInput{
		MinimumPasswordLength:      aws.Int32(14),
		RequireSymbols:             true,
		RequireNumbers:             true,
		RequireUppercaseCharacters: true,
		RequireLowercaseCharacters: true,
		AllowUsersToChangePassword: true,
		MaxPasswordAge:             aws.Int32(90),
		PasswordReusePrevention:    aws.Int32(12),
		HardExpiry:                 aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("updating account password policy: %w", err)
	}
	rem.Actions = append(rem.Actions, "Enforced strong password policy")
	return nil
}
