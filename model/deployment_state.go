// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

const (
	// ScenarioNewCluster deploys a fresh cluster before connecting it.
	ScenarioNewCluster = "new"
	// ScenarioExistingCluster connects a cluster that already exists.
	ScenarioExistingCluster = "existing"
)

// DeploymentState is the single persisted record describing how far a
// deployment has progressed and what each finished stage produced. Output
// fields are written once by the stage that owns them and only read
// afterwards; nothing erases them short of an explicit reset.
type DeploymentState struct {
	Scenario          string `json:"scenario"`
	ClusterName       string `json:"cluster_name"`
	ClusterID         string `json:"cluster_id"`
	TenantID          string `json:"tenant_id,omitempty"`
	Region            string `json:"region"`
	VpcID             string `json:"vpc_id,omitempty"`
	SubnetID          string `json:"subnet_id,omitempty"`
	SecondarySubnetID string `json:"secondary_subnet_id,omitempty"`
	SSHKeyName        string `json:"ssh_key_name,omitempty"`

	ConfigPath         string `json:"config_path,omitempty"`
	HeadNodeInstanceID string `json:"head_node_instance_id,omitempty"`
	ServiceEndpoint    string `json:"lattice_service_endpoint,omitempty"`
	ServiceARN         string `json:"lattice_service_arn,omitempty"`
	ServiceNetworkID   string `json:"lattice_service_network_id,omitempty"`
	SlurmJWTSecretARN  string `json:"slurm_jwt_secret_arn,omitempty"`
	SlurmPort          int64  `json:"slurm_port,omitempty"`
	RoleARN            string `json:"iam_role_arn,omitempty"`
	ExternalID         string `json:"iam_external_id,omitempty"`
	EventsQueueURL     string `json:"events_queue_url,omitempty"`
	RegistrationID     string `json:"registration_id,omitempty"`

	Stage       DeploymentStage `json:"stage"`
	FailedStage DeploymentStage `json:"failed_stage,omitempty"`
	CreateAt    int64           `json:"create_at"`
	UpdateAt    int64           `json:"update_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// NewDeploymentState returns a fresh state that has done nothing yet.
func NewDeploymentState() *DeploymentState {
	now := GetMillis()
	return &DeploymentState{
		Scenario: ScenarioNewCluster,
		Stage:    DeploymentStageNotStarted,
		CreateAt: now,
		UpdateAt: now,
	}
}

// Clone returns a deep copy of the deployment state.
func (s *DeploymentState) Clone() *DeploymentState {
	var clone DeploymentState
	data, _ := json.Marshal(s)
	json.Unmarshal(data, &clone)

	return &clone
}

// IsNewCluster determines whether this deployment also creates the cluster.
func (s *DeploymentState) IsNewCluster() bool {
	return s.Scenario != ScenarioExistingCluster
}

// HasConnectivityOutputs determines whether the connectivity stage recorded
// its outputs.
func (s *DeploymentState) HasConnectivityOutputs() bool {
	return s.ServiceARN != "" && s.ServiceNetworkID != ""
}

// RegistrationReady validates that every field the register stage sends is
// populated.
func (s *DeploymentState) RegistrationReady() error {
	required := map[string]string{
		"cluster_id":                 s.ClusterID,
		"cluster_name":               s.ClusterName,
		"region":                     s.Region,
		"lattice_service_endpoint":   s.ServiceEndpoint,
		"lattice_service_arn":        s.ServiceARN,
		"lattice_service_network_id": s.ServiceNetworkID,
		"slurm_jwt_secret_arn":       s.SlurmJWTSecretARN,
		"iam_role_arn":               s.RoleARN,
		"iam_external_id":            s.ExternalID,
		"head_node_instance_id":      s.HeadNodeInstanceID,
	}
	for name, value := range required {
		if value == "" {
			return errors.Errorf("registration requires %s, which no earlier stage recorded", name)
		}
	}

	return nil
}

// DeploymentStateFromReader decodes a json-encoded deployment state from the
// given io.Reader.
func DeploymentStateFromReader(reader io.Reader) (*DeploymentState, error) {
	state := DeploymentState{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&state)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode deployment state")
	}

	return &state, nil
}
