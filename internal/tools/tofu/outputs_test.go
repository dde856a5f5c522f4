// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package tofu

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutputs = `{
	"events_sqs_url": {
		"sensitive": false,
		"type": "string",
		"value": "https://sqs.us-east-1.amazonaws.com/000000000000/clusterra-events"
	},
	"clusterra_onboarding": {
		"sensitive": true,
		"type": ["object", {}],
		"value": {
			"aws_account_id": "000000000000",
			"lattice_service_endpoint": "cluster1.vpc-lattice-svcs.us-east-1.on.aws",
			"lattice_service_arn": "arn:aws:vpc-lattice:us-east-1:000000000000:service/svc-1",
			"lattice_service_network_id": "sn-1234",
			"slurm_port": 6830,
			"slurm_jwt_secret_arn": "arn:aws:secretsmanager:us-east-1:000000000000:secret:jwt",
			"role_arn": "arn:aws:iam::000000000000:role/clusterra",
			"external_id": "external1",
			"head_node_instance_id": "i-0123456789abcdef0"
		}
	}
}`

func TestParseOutputs(t *testing.T) {
	outputs, err := parseOutputs([]byte(sampleOutputs))
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	queue, ok := outputs["events_sqs_url"]
	require.True(t, ok)
	assert.False(t, queue.Sensitive)

	var url string
	require.NoError(t, json.Unmarshal(queue.Value, &url))
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/000000000000/clusterra-events", url)

	_, err = parseOutputs([]byte("not json"))
	assert.Error(t, err)
}

func TestParseOnboardingOutputs(t *testing.T) {
	outputs, err := parseOutputs([]byte(sampleOutputs))
	require.NoError(t, err)

	output, ok := outputs[OnboardingOutputName]
	require.True(t, ok)
	assert.True(t, output.Sensitive)

	var onboarding OnboardingOutputs
	require.NoError(t, json.Unmarshal(output.Value, &onboarding))
	assert.Equal(t, "000000000000", onboarding.AWSAccountID)
	assert.Equal(t, "cluster1.vpc-lattice-svcs.us-east-1.on.aws", onboarding.ServiceEndpoint)
	assert.Equal(t, "sn-1234", onboarding.ServiceNetworkID)
	assert.Equal(t, int64(6830), onboarding.SlurmPort)
	assert.Equal(t, "i-0123456789abcdef0", onboarding.HeadNodeInstanceID)
}
