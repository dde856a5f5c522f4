// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package aws wraps the AWS control-plane calls the deployment needs:
// CloudFormation stack status, SSM remote commands, RAM resource shares, VPC
// Lattice associations, and the identity calls backing registration.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/ram"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/vpclattice"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// awsServices stores the individual services exposed by the AWS SDK.
type awsServices struct {
	cloudFormation *cloudformation.Client
	ec2            *ec2.Client
	iam            *iam.Client
	ram            *ram.Client
	secretsManager *secretsmanager.Client
	ssm            *ssm.Client
	sts            *sts.Client
	stsPresign     *sts.PresignClient
	lattice        *vpclattice.Client
}

// Client is a client for interacting with AWS resources in a single AWS
// account.
type Client struct {
	aws    *awsServices
	region string
	logger log.FieldLogger
}

// NewClient loads the default AWS configuration, optionally overridden with
// a shared-config profile and region, and returns a new instance of Client.
// Credentials are resolved eagerly so a fresh run fails before the first
// stage rather than deep inside one.
func NewClient(ctx context.Context, profile, region string, logger log.FieldLogger) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}
	if _, err = cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to resolve AWS credentials")
	}
	if cfg.Region == "" {
		return nil, errors.New("no AWS region configured; pass --region or configure the profile")
	}

	return NewClientWithConfig(cfg, logger), nil
}

// NewClientWithConfig returns a new instance of Client with a custom
// configuration.
func NewClientWithConfig(cfg aws.Config, logger log.FieldLogger) *Client {
	stsClient := sts.NewFromConfig(cfg)
	services := awsServices{
		cloudFormation: cloudformation.NewFromConfig(cfg),
		ec2:            ec2.NewFromConfig(cfg),
		iam:            iam.NewFromConfig(cfg),
		ram:            ram.NewFromConfig(cfg),
		secretsManager: secretsmanager.NewFromConfig(cfg),
		ssm:            ssm.NewFromConfig(cfg),
		sts:            stsClient,
		stsPresign:     sts.NewPresignClient(stsClient),
		lattice:        vpclattice.NewFromConfig(cfg),
	}

	return &Client{
		aws:    &services,
		region: cfg.Region,
		logger: logger,
	}
}

// GetRegion returns the region the client operates in.
func (c *Client) GetRegion() string {
	return c.region
}

// GetAccountID returns the account the configured credentials belong to.
func (c *Client) GetAccountID(ctx context.Context) (string, error) {
	identity, err := c.aws.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", errors.Wrap(err, "failed to get caller identity")
	}

	return aws.ToString(identity.Account), nil
}
