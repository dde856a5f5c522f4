// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/pkg/errors"

	"github.com/clusterra/cluster-connect/model"
)

// headNodeLogicalID is the logical resource id ParallelCluster assigns the
// head node instance inside the cluster stack.
const headNodeLogicalID = "HeadNode"

// GetStackStatus returns the status of the named CloudFormation stack,
// normalized to the shared cluster-status vocabulary. A missing stack is
// reported as NOT_FOUND, not as an error.
func (c *Client) GetStackStatus(ctx context.Context, stackName string) (string, error) {
	output, err := c.aws.cloudFormation.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if stackDoesNotExist(err) {
			return model.ClusterStatusNotFound, nil
		}
		return "", errors.Wrapf(err, "failed to describe stack %s", stackName)
	}
	if len(output.Stacks) == 0 {
		return model.ClusterStatusNotFound, nil
	}

	return string(output.Stacks[0].StackStatus), nil
}

// GetHeadNodeInstanceID resolves the head node EC2 instance id from the
// cluster stack's resources. An empty id with a nil error means the stack or
// the head node resource does not exist yet.
func (c *Client) GetHeadNodeInstanceID(ctx context.Context, stackName string) (string, error) {
	output, err := c.aws.cloudFormation.DescribeStackResources(ctx, &cloudformation.DescribeStackResourcesInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		if stackDoesNotExist(err) {
			return "", nil
		}
		return "", errors.Wrapf(err, "failed to describe resources of stack %s", stackName)
	}

	for _, resource := range output.StackResources {
		if aws.ToString(resource.LogicalResourceId) == headNodeLogicalID {
			return aws.ToString(resource.PhysicalResourceId), nil
		}
	}

	return "", nil
}

// stackDoesNotExist recognizes the ValidationError CloudFormation returns
// for DescribeStacks on a nonexistent stack.
func stackDoesNotExist(err error) bool {
	return IsErrorCode(err, "ValidationError") && strings.Contains(err.Error(), "does not exist")
}
