// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package tofu

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// OnboardingOutputName is the structured output holding everything the
// registration payload needs.
const OnboardingOutputName = "clusterra_onboarding"

type tofuOutput struct {
	Sensitive bool            `json:"sensitive"`
	Type      json.RawMessage `json:"type"`
	Value     json.RawMessage `json:"value"`
}

// OnboardingOutputs is the structured onboarding object exported by the
// connectivity module.
type OnboardingOutputs struct {
	AWSAccountID       string `json:"aws_account_id"`
	ServiceEndpoint    string `json:"lattice_service_endpoint"`
	ServiceARN         string `json:"lattice_service_arn"`
	ServiceNetworkID   string `json:"lattice_service_network_id"`
	SlurmPort          int64  `json:"slurm_port"`
	SlurmJWTSecretARN  string `json:"slurm_jwt_secret_arn"`
	RoleARN            string `json:"role_arn"`
	ExternalID         string `json:"external_id"`
	HeadNodeInstanceID string `json:"head_node_instance_id"`
}

func parseOutputs(stdout []byte) (map[string]tofuOutput, error) {
	var outputs map[string]tofuOutput
	err := json.Unmarshal(stdout, &outputs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse tofu output")
	}

	return outputs, nil
}

// Output invokes tofu output and returns the named value, true if it exists,
// and an empty string and false if it does not.
func (c *Cmd) Output(variable string) (string, bool, error) {
	stdout, _, err := c.run(
		"output",
		"-json",
	)
	if err != nil {
		return string(stdout), false, errors.Wrap(err, "failed to invoke tofu output")
	}

	outputs, err := parseOutputs(stdout)
	if err != nil {
		return "", false, err
	}

	output, ok := outputs[variable]
	if !ok {
		return "", false, nil
	}

	var value interface{}
	if err = json.Unmarshal(output.Value, &value); err != nil {
		return "", false, errors.Wrapf(err, "failed to parse tofu output %s", variable)
	}

	return fmt.Sprintf("%v", value), true, nil
}

// Onboarding invokes tofu output and decodes the structured onboarding
// object exported by the connectivity module.
func (c *Cmd) Onboarding() (*OnboardingOutputs, error) {
	stdout, _, err := c.run(
		"output",
		"-json",
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to invoke tofu output")
	}

	outputs, err := parseOutputs(stdout)
	if err != nil {
		return nil, err
	}

	output, ok := outputs[OnboardingOutputName]
	if !ok {
		return nil, errors.Errorf("tofu output %s not found; has the connectivity module been applied?", OnboardingOutputName)
	}

	var onboarding OnboardingOutputs
	if err = json.Unmarshal(output.Value, &onboarding); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tofu output %s", OnboardingOutputName)
	}

	return &onboarding, nil
}
