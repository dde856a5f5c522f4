package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/pkg/errors"
)

// SecretExists determines whether the given Secrets Manager secret resolves.
// The daemon configuration stage checks the JWT secret before pushing its
// reference to the head node.
func (c *Client) SecretExists(ctx context.Context, secretARN string) (bool, error) {
	_, err := c.aws.secretsManager.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		if IsErrorNotFound(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to describe secret %s", secretARN)
	}

	return true, nil
}
