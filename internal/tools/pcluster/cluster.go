// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package pcluster

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/clusterra/cluster-connect/model"
)

type describeClusterResponse struct {
	ClusterName                string `json:"clusterName"`
	ClusterStatus              string `json:"clusterStatus"`
	CloudFormationStackStatus  string `json:"cloudFormationStackStatus"`
	CloudformationStackArn     string `json:"cloudformationStackArn"`
	HeadNodeInstanceID         string `json:"headNode,omitempty"`
	ComputeFleetStatus         string `json:"computeFleetStatus,omitempty"`
	ClusterConfigurationStatus string `json:"clusterConfiguration,omitempty"`
}

// CreateCluster requests creation of the named cluster from the given
// configuration file. The call returns once the creation has been submitted;
// the stack settles asynchronously.
func (c *Cmd) CreateCluster(name, configPath string) error {
	_, _, err := c.run(
		"create-cluster",
		"--cluster-name", name,
		"--cluster-configuration", configPath,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to invoke pcluster create-cluster for %s", name)
	}

	return nil
}

// DeleteCluster requests deletion of the named cluster. Deletion also
// settles asynchronously.
func (c *Cmd) DeleteCluster(name string) error {
	_, _, err := c.run(
		"delete-cluster",
		"--cluster-name", name,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to invoke pcluster delete-cluster for %s", name)
	}

	return nil
}

// DescribeClusterStatus queries the CLI for the named cluster and normalizes
// the answer to the shared stack-status vocabulary. Callers unable to reach
// the CLI should fall back to the native CloudFormation status query.
func (c *Cmd) DescribeClusterStatus(name string) (string, error) {
	stdout, _, err := c.run(
		"describe-cluster",
		"--cluster-name", name,
	)
	if err != nil {
		return "", errors.Wrapf(err, "failed to invoke pcluster describe-cluster for %s", name)
	}

	return normalizeDescribeOutput(stdout)
}

func normalizeDescribeOutput(stdout []byte) (string, error) {
	var response describeClusterResponse
	if err := json.Unmarshal(stdout, &response); err != nil {
		return "", errors.Wrap(err, "failed to parse pcluster describe-cluster output")
	}

	// The CloudFormation status is the finer-grained of the two and already
	// uses the shared vocabulary. The cluster status is a coarser mirror of
	// the same value.
	if response.CloudFormationStackStatus != "" {
		return response.CloudFormationStackStatus, nil
	}
	if response.ClusterStatus != "" {
		return response.ClusterStatus, nil
	}

	return model.ClusterStatusNotFound, nil
}
