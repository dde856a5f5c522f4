package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/pkg/errors"
)

// InstanceNetwork describes where an EC2 instance lives.
type InstanceNetwork struct {
	VpcID    string
	SubnetID string
	State    string
}

// GetInstanceNetwork looks up the given instance and returns its VPC, subnet,
// and lifecycle state. Used to validate a user-supplied head node in the
// existing-cluster scenario.
func (c *Client) GetInstanceNetwork(ctx context.Context, instanceID string) (*InstanceNetwork, error) {
	output, err := c.aws.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to describe instance %s", instanceID)
	}
	if len(output.Reservations) == 0 || len(output.Reservations[0].Instances) == 0 {
		return nil, errors.Errorf("instance %s not found", instanceID)
	}

	instance := output.Reservations[0].Instances[0]
	network := &InstanceNetwork{
		VpcID:    aws.ToString(instance.VpcId),
		SubnetID: aws.ToString(instance.SubnetId),
	}
	if instance.State != nil {
		network.State = string(instance.State.Name)
	}

	return network, nil
}
