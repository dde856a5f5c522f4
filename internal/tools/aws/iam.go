// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/pkg/errors"
)

// managedAgentPolicyARN grants the head node's role the permissions the SSM
// agent needs to register with the service.
const managedAgentPolicyARN = "arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore"

// EnsureInstanceAgentPolicy attaches the managed SSM policy to the instance
// profile role of the given instance, so the management agent can register
// while the connectivity apply is still running. Attaching an already
// attached managed policy is a no-op on the AWS side.
func (c *Client) EnsureInstanceAgentPolicy(ctx context.Context, instanceID string) error {
	output, err := c.aws.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to describe instance %s", instanceID)
	}
	if len(output.Reservations) == 0 || len(output.Reservations[0].Instances) == 0 {
		return errors.Errorf("instance %s not found", instanceID)
	}

	instance := output.Reservations[0].Instances[0]
	if instance.IamInstanceProfile == nil {
		return errors.Errorf("instance %s has no IAM instance profile; cannot enable the management agent", instanceID)
	}

	profileARN := aws.ToString(instance.IamInstanceProfile.Arn)
	parts := strings.Split(profileARN, "/")
	profileName := parts[len(parts)-1]

	profile, err := c.aws.iam.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to get instance profile %s", profileName)
	}
	if len(profile.InstanceProfile.Roles) == 0 {
		return errors.Errorf("instance profile %s has no roles", profileName)
	}

	roleName := aws.ToString(profile.InstanceProfile.Roles[0].RoleName)
	c.logger.WithField("role", roleName).Debug("Ensuring management agent policy on head node role")

	_, err = c.aws.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(managedAgentPolicyARN),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to attach agent policy to role %s", roleName)
	}

	return nil
}
