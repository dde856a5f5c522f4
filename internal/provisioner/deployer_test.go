// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package provisioner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterra/cluster-connect/internal/provisioner"
	"github.com/clusterra/cluster-connect/internal/registry"
	"github.com/clusterra/cluster-connect/internal/store"
	"github.com/clusterra/cluster-connect/internal/testlib"
	toolsaws "github.com/clusterra/cluster-connect/internal/tools/aws"
	"github.com/clusterra/cluster-connect/internal/tools/tofu"
	"github.com/clusterra/cluster-connect/model"
)

type deploymentFixture struct {
	store    *store.DeploymentStore
	cloud    *mockCloud
	infra    *mockInfra
	cluster  *mockClusterCLI
	registry *mockRegistry
	deployer *provisioner.Deployer
	recorder *eventRecorder
	params   provisioner.Params
}

func testOnboarding() *tofu.OnboardingOutputs {
	return &tofu.OnboardingOutputs{
		AWSAccountID:      "000000000000",
		ServiceEndpoint:   "cluster1.vpc-lattice-svcs.us-east-1.on.aws",
		ServiceARN:        "arn:aws:vpc-lattice:us-east-1:000000000000:service/svc-1",
		ServiceNetworkID:  "sn-1234",
		SlurmPort:         6830,
		SlurmJWTSecretARN: "arn:aws:secretsmanager:us-east-1:000000000000:secret:jwt",
		RoleARN:           "arn:aws:iam::000000000000:role/clusterra",
		ExternalID:        "external1",
	}
}

func testTimings() provisioner.Timings {
	return provisioner.Timings{
		ClusterPollInterval:  time.Millisecond,
		DeletePollInterval:   time.Millisecond,
		AgentTimeout:         10 * time.Millisecond,
		AgentEscalationWait:  time.Millisecond,
		SharePollInterval:    time.Millisecond,
		ShareTimeout:         500 * time.Millisecond,
		SharePropagationWait: time.Millisecond,
	}
}

// setupDeployment wires a deployer against mocks preconfigured for a clean
// new-cluster run. Individual tests adjust the mocks before running.
func setupDeployment(t *testing.T, mutate func(*model.DeploymentState)) *deploymentFixture {
	dir := t.TempDir()
	generatedDir := filepath.Join(dir, "generated")
	require.NoError(t, os.MkdirAll(generatedDir, 0o755))

	logger := testlib.MakeLogger(t)

	deploymentStore := store.New(filepath.Join(dir, "deployment-state.json"), logger)
	_, err := deploymentStore.Load()
	require.NoError(t, err)
	require.NoError(t, deploymentStore.Update(func(s *model.DeploymentState) {
		s.ClusterName = "cluster1"
		s.Region = "us-east-1"
		s.TenantID = "tenant1"
		if mutate != nil {
			mutate(s)
		}
	}))

	recorder := &eventRecorder{}
	cloud := &mockCloud{
		recorder:     recorder,
		accountID:    "000000000000",
		headNodeID:   "i-0123456789abcdef0",
		network:      &toolsaws.InstanceNetwork{VpcID: "vpc-1", SubnetID: "subnet-1", State: "running"},
		secretExists: true,
		// First probe finds no daemon, the probe after setup finds it.
		shellErrs: []error{errors.New("no listener"), nil},
	}
	infra := &mockInfra{
		recorder:   recorder,
		configFile: filepath.Join(generatedDir, "cluster1-config.yaml"),
		onboarding: testOnboarding(),
		outputs: map[string]string{
			"events_sqs_url": "https://sqs.us-east-1.amazonaws.com/000000000000/clusterra-events",
		},
	}
	cluster := &mockClusterCLI{
		statuses: &statusSequence{statuses: []string{
			model.ClusterStatusNotFound,
			model.ClusterStatusCreateInProgress,
			model.ClusterStatusCreateInProgress,
			model.ClusterStatusCreateComplete,
		}},
	}
	registryClient := &mockRegistry{
		response: &model.RegisterClusterResponse{RegistrationID: "reg1234"},
	}

	params := provisioner.Params{
		GeneratedDir:       generatedDir,
		ScriptsDir:         "scripts",
		HooksDir:           filepath.Join("scripts", "hooks"),
		ShareNameSubstring: "clusterra-service-network",
		ClusterTimeout:     2 * time.Second,
	}

	deployer := provisioner.NewDeployer(deploymentStore, cloud, infra, cluster, registryClient, params, logger).
		WithTimings(testTimings())

	return &deploymentFixture{
		store:    deploymentStore,
		cloud:    cloud,
		infra:    infra,
		cluster:  cluster,
		registry: registryClient,
		deployer: deployer,
		recorder: recorder,
		params:   params,
	}
}

func TestRunNewClusterDeployment(t *testing.T) {
	fixture := setupDeployment(t, nil)

	err := fixture.deployer.Run(context.Background())
	require.NoError(t, err)

	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageComplete, state.Stage)
	assert.True(t, model.IsValidClusterID(state.ClusterID))

	// Configuration was generated and the cluster created once.
	assert.FileExists(t, state.ConfigPath)
	assert.Equal(t, 1, fixture.cluster.createCalls)

	// The head node and connectivity outputs were recorded.
	assert.Equal(t, "i-0123456789abcdef0", state.HeadNodeInstanceID)
	assert.Equal(t, "arn:aws:vpc-lattice:us-east-1:000000000000:service/svc-1", state.ServiceARN)
	assert.Equal(t, "sn-1234", state.ServiceNetworkID)
	assert.Equal(t, int64(6830), state.SlurmPort)
	assert.Equal(t, 1, fixture.cloud.ensurePolicyCalls)

	// The daemon was configured with the JWT secret and the hooks installed
	// with the queue URL.
	assert.Equal(t, 1, fixture.cloud.runScriptCalls)
	assert.Equal(t, []string{"arn:aws:secretsmanager:us-east-1:000000000000:secret:jwt"}, fixture.cloud.runScriptArgs)
	assert.Equal(t, 1, fixture.cloud.packageCalls)
	assert.Equal(t, []string{state.EventsQueueURL}, fixture.cloud.packageArgs)
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/000000000000/clusterra-events", state.EventsQueueURL)

	// Registration went to the right tenant and the association completed.
	assert.Equal(t, "reg1234", state.RegistrationID)
	assert.Equal(t, 1, fixture.registry.calls)
	assert.Equal(t, "tenant1", fixture.registry.tenant)
	assert.Equal(t, "token123", fixture.registry.token)
	assert.Equal(t, state.ClusterID, fixture.registry.request.ClusterID)
	assert.Equal(t, 1, fixture.cloud.associateCalls)

	assert.Equal(t, []string{"module.parallelcluster", "module.connectivity", "module.events"}, fixture.infra.applies)
	assert.Empty(t, fixture.infra.destroyTargets)
}

func TestRunInterruptedDeploymentResumes(t *testing.T) {
	fixture := setupDeployment(t, nil)
	fixture.cluster.statuses = &statusSequence{statuses: []string{
		model.ClusterStatusNotFound,
		model.ClusterStatusCreateInProgress,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := fixture.deployer.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The interruption left the deployment mid-stage, not failed.
	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageClusterPending, state.Stage)
	assert.Empty(t, state.FailedStage)
	assert.Equal(t, 1, fixture.cluster.createCalls)

	// Resuming picks up the in-progress creation without a second create.
	fixture.cluster.statuses = &statusSequence{statuses: []string{model.ClusterStatusCreateComplete}}
	err = fixture.deployer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStageComplete, fixture.store.State().Stage)
	assert.Equal(t, 1, fixture.cluster.createCalls)
	assert.Equal(t, 1, fixture.registry.calls)
}

func TestRunCompletedDeploymentDoesNothing(t *testing.T) {
	fixture := setupDeployment(t, nil)
	require.NoError(t, fixture.deployer.Run(context.Background()))

	createCalls := fixture.cluster.createCalls
	applies := len(fixture.infra.applies)
	registerCalls := fixture.registry.calls

	require.NoError(t, fixture.deployer.Run(context.Background()))
	assert.Equal(t, createCalls, fixture.cluster.createCalls)
	assert.Len(t, fixture.infra.applies, applies)
	assert.Equal(t, registerCalls, fixture.registry.calls)
}

func TestRunExistingClusterSkipsCreation(t *testing.T) {
	fixture := setupDeployment(t, func(s *model.DeploymentState) {
		s.Scenario = model.ScenarioExistingCluster
		s.HeadNodeInstanceID = "i-0123456789abcdef0"
	})

	err := fixture.deployer.Run(context.Background())
	require.NoError(t, err)

	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageComplete, state.Stage)
	assert.Equal(t, 0, fixture.cluster.createCalls)
	assert.Empty(t, state.ConfigPath)

	// The supplied head node was verified and its placement recorded.
	assert.Equal(t, "vpc-1", state.VpcID)
	assert.Equal(t, "subnet-1", state.SubnetID)

	assert.Equal(t, []string{"module.connectivity", "module.events"}, fixture.infra.applies)
}

func TestRunExistingClusterRequiresHeadNode(t *testing.T) {
	fixture := setupDeployment(t, func(s *model.DeploymentState) {
		s.Scenario = model.ScenarioExistingCluster
	})

	err := fixture.deployer.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "head node")

	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageFailed, state.Stage)
	assert.Equal(t, model.DeploymentStageNotStarted, state.FailedStage)
}

func TestRunDryRunPerformsNoMutations(t *testing.T) {
	fixture := setupDeployment(t, nil)
	fixture.params.DryRun = true
	fixture.deployer = provisioner.NewDeployer(fixture.store, fixture.cloud, fixture.infra, fixture.cluster, fixture.registry, fixture.params, testlib.MakeLogger(t)).
		WithTimings(testTimings())

	err := fixture.deployer.Run(context.Background())
	require.NoError(t, err)

	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageComplete, state.Stage)
	assert.Equal(t, "i-MOCKHEADNODE12345", state.HeadNodeInstanceID)
	assert.NotEmpty(t, state.ConfigPath)

	assert.Equal(t, 0, fixture.cluster.createCalls)
	assert.Empty(t, fixture.infra.applies)
	assert.Equal(t, 0, fixture.cloud.ensurePolicyCalls)
	assert.Equal(t, 0, fixture.cloud.runScriptCalls)
	assert.Equal(t, 0, fixture.cloud.packageCalls)
	assert.Equal(t, 0, fixture.registry.calls)
	assert.Equal(t, 0, fixture.cloud.associateCalls)
}

func TestRunClusterCreationFailure(t *testing.T) {
	fixture := setupDeployment(t, nil)
	fixture.cluster.statuses = &statusSequence{statuses: []string{
		model.ClusterStatusNotFound,
		model.ClusterStatusCreateInProgress,
		"ROLLBACK_IN_PROGRESS",
	}}

	err := fixture.deployer.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROLLBACK_IN_PROGRESS")

	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageFailed, state.Stage)
	assert.Equal(t, model.DeploymentStageClusterPending, state.FailedStage)
	assert.NotEmpty(t, state.LastError)

	// Nothing past the cluster exists yet, so nothing is rolled back.
	assert.Equal(t, 0, fixture.cloud.disassociateCalls)
	assert.Empty(t, fixture.infra.destroyTargets)
}

func TestRunFailureAfterConnectivityRollsBack(t *testing.T) {
	fixture := setupDeployment(t, nil)
	fixture.cloud.secretExists = false

	err := fixture.deployer.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageFailed, state.Stage)
	assert.Equal(t, model.DeploymentStageConfigureDaemon, state.FailedStage)

	// The association is removed before the infrastructure is destroyed.
	assert.Equal(t, 1, fixture.cloud.disassociateCalls)
	assert.Equal(t, []string{"module.connectivity"}, fixture.infra.destroyTargets)
	disassociate := fixture.recorder.indexOf("disassociate")
	destroy := fixture.recorder.indexOf("destroy module.connectivity")
	require.GreaterOrEqual(t, disassociate, 0)
	require.GreaterOrEqual(t, destroy, 0)
	assert.Less(t, disassociate, destroy)

	// The rolled-back outputs are cleared so a retry re-applies them.
	assert.Empty(t, state.ServiceARN)
	assert.Empty(t, state.ServiceNetworkID)
	assert.Empty(t, state.SlurmJWTSecretARN)
}

func TestRetryFromLastGoodStage(t *testing.T) {
	fixture := setupDeployment(t, nil)
	fixture.cloud.secretExists = false

	require.Error(t, fixture.deployer.Run(context.Background()))
	require.Equal(t, model.DeploymentStageFailed, fixture.store.State().Stage)

	// Fix the cause and retry. Connectivity was rolled back, so the retry
	// must rewind far enough to rebuild it. The first run already consumed
	// one probe; the retry probes once before setup and once after.
	fixture.cloud.secretExists = true
	fixture.cloud.shellErrs = []error{errors.New("no listener"), errors.New("no listener"), nil}

	err := fixture.deployer.RetryFromLastGoodStage(context.Background())
	require.NoError(t, err)

	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageComplete, state.Stage)
	assert.Empty(t, state.FailedStage)
	assert.Empty(t, state.LastError)
	assert.Equal(t, "sn-1234", state.ServiceNetworkID)
	assert.Equal(t, "reg1234", state.RegistrationID)

	// The cluster itself was never recreated.
	assert.Equal(t, 1, fixture.cluster.createCalls)
}

func TestRetryInfersStageFromOutputs(t *testing.T) {
	// State files written before the failed stage was recorded carry only the
	// per-stage outputs; the retry has to infer how far the deployment got.
	onboarding := testOnboarding()
	fixture := setupDeployment(t, func(s *model.DeploymentState) {
		s.Stage = model.DeploymentStageFailed
		s.LastError = "connection reset by peer"
		s.ClusterID = "clusab12"
		s.ConfigPath = filepath.Join("generated", "cluster1-config.yaml")
		s.HeadNodeInstanceID = "i-0123456789abcdef0"
		s.ServiceEndpoint = onboarding.ServiceEndpoint
		s.ServiceARN = onboarding.ServiceARN
		s.ServiceNetworkID = onboarding.ServiceNetworkID
		s.SlurmPort = onboarding.SlurmPort
		s.SlurmJWTSecretARN = onboarding.SlurmJWTSecretARN
		s.RoleARN = onboarding.RoleARN
		s.ExternalID = onboarding.ExternalID
	})

	err := fixture.deployer.RetryFromLastGoodStage(context.Background())
	require.NoError(t, err)

	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageComplete, state.Stage)
	assert.Equal(t, "reg1234", state.RegistrationID)

	// The resume re-entered at connectivity, where the recorded outputs
	// satisfy the probe; only the event pipeline still needed an apply.
	assert.Equal(t, []string{"module.events"}, fixture.infra.applies)
	assert.Equal(t, 0, fixture.cluster.createCalls)
}

func TestRunRegistrationTimeoutStillConnects(t *testing.T) {
	fixture := setupDeployment(t, func(s *model.DeploymentState) {
		s.ClusterID = "clusab12"
	})
	fixture.registry.err = registry.ErrTimeout

	err := fixture.deployer.Run(context.Background())
	require.NoError(t, err)

	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageComplete, state.Stage)
	assert.Equal(t, 1, fixture.registry.calls)
	assert.Equal(t, 1, fixture.cloud.associateCalls)

	// With no confirmed server-side id, the cluster id stands in.
	assert.Equal(t, "clusab12", state.RegistrationID)
}

func TestRunAcceptsShareInvitation(t *testing.T) {
	fixture := setupDeployment(t, nil)
	fixture.cloud.visible = []bool{false, false, true}
	fixture.cloud.invitations = []*toolsaws.ShareInvitation{
		nil,
		{
			ARN:           "arn:aws:ram:us-east-1:999999999999:resource-share-invitation/inv-1",
			Name:          "clusterra-service-network-share",
			SenderAccount: "999999999999",
			Status:        "PENDING",
		},
	}

	err := fixture.deployer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.DeploymentStageComplete, fixture.store.State().Stage)
	assert.Equal(t, 1, fixture.cloud.acceptCalls)
	assert.Equal(t, 1, fixture.cloud.associateCalls)
	assert.Less(t, fixture.recorder.indexOf("accept-invitation"), fixture.recorder.indexOf("associate"))
}

func TestRunSkipsRegistrationWithoutTenant(t *testing.T) {
	fixture := setupDeployment(t, func(s *model.DeploymentState) {
		s.TenantID = ""
	})

	err := fixture.deployer.Run(context.Background())
	require.NoError(t, err)

	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageComplete, state.Stage)
	assert.Equal(t, 0, fixture.registry.calls)
	assert.Empty(t, state.RegistrationID)
	assert.Equal(t, 0, fixture.cloud.associateCalls)
}

func TestTeardown(t *testing.T) {
	fixture := setupDeployment(t, nil)
	require.NoError(t, fixture.deployer.Run(context.Background()))

	fixture.cluster.statuses = &statusSequence{statuses: []string{
		model.ClusterStatusCreateComplete,
		model.ClusterStatusDeleteInProgress,
		model.ClusterStatusNotFound,
	}}

	err := fixture.deployer.Teardown(context.Background(), "cluster1")
	require.NoError(t, err)

	assert.Equal(t, 1, fixture.cluster.deleteCalls)
	assert.Equal(t, 1, fixture.cloud.disassociateCalls)
	assert.Equal(t, 1, fixture.infra.destroyCalls)
	assert.Less(t, fixture.recorder.indexOf("disassociate"), fixture.recorder.indexOf("destroy"))

	// The state was cleared back to a fresh deployment.
	state := fixture.store.State()
	assert.Equal(t, model.DeploymentStageNotStarted, state.Stage)
	assert.Empty(t, state.ClusterName)
}

func TestTeardownPreservesOtherDeployment(t *testing.T) {
	fixture := setupDeployment(t, func(s *model.DeploymentState) {
		s.ClusterName = "cluster2"
	})
	fixture.cluster.statuses = &statusSequence{statuses: []string{model.ClusterStatusNotFound}}

	err := fixture.deployer.Teardown(context.Background(), "cluster1")
	require.NoError(t, err)

	assert.Equal(t, 0, fixture.cluster.deleteCalls)
	assert.Equal(t, 0, fixture.infra.destroyCalls)
	assert.Equal(t, "cluster2", fixture.store.State().ClusterName)
}
