// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// RegisterClusterRequest is the payload sent to the Clusterra API to register
// a connected cluster with a tenant.
type RegisterClusterRequest struct {
	ClusterID          string `json:"cluster_id"`
	ClusterName        string `json:"cluster_name"`
	AWSAccountID       string `json:"aws_account_id"`
	Region             string `json:"region"`
	ServiceEndpoint    string `json:"lattice_service_endpoint"`
	ServiceARN         string `json:"lattice_service_arn"`
	ServiceNetworkID   string `json:"lattice_service_network_id"`
	SlurmPort          int64  `json:"slurm_port"`
	SlurmJWTSecretARN  string `json:"slurm_jwt_secret_arn"`
	IAMRoleARN         string `json:"iam_role_arn"`
	IAMExternalID      string `json:"iam_external_id"`
	HeadNodeInstanceID string `json:"head_node_instance_id"`
}

// RegisterClusterResponse is returned by the Clusterra API on a successful
// registration.
type RegisterClusterResponse struct {
	RegistrationID string `json:"registration_id"`
}

// NewRegisterClusterRequestFromState builds the registration payload from the
// outputs recorded by earlier stages.
func NewRegisterClusterRequestFromState(state *DeploymentState, accountID string, slurmPort int64) (*RegisterClusterRequest, error) {
	if err := state.RegistrationReady(); err != nil {
		return nil, err
	}
	if slurmPort == 0 {
		slurmPort = 443
	}

	return &RegisterClusterRequest{
		ClusterID:          state.ClusterID,
		ClusterName:        state.ClusterName,
		AWSAccountID:       accountID,
		Region:             state.Region,
		ServiceEndpoint:    state.ServiceEndpoint,
		ServiceARN:         state.ServiceARN,
		ServiceNetworkID:   state.ServiceNetworkID,
		SlurmPort:          slurmPort,
		SlurmJWTSecretARN:  state.SlurmJWTSecretARN,
		IAMRoleARN:         state.RoleARN,
		IAMExternalID:      state.ExternalID,
		HeadNodeInstanceID: state.HeadNodeInstanceID,
	}, nil
}

// RegisterClusterResponseFromReader decodes a json-encoded registration
// response from the given io.Reader.
func RegisterClusterResponseFromReader(reader io.Reader) (*RegisterClusterResponse, error) {
	response := RegisterClusterResponse{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&response)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode register cluster response")
	}

	return &response, nil
}
