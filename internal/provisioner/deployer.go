// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package provisioner drives the staged deployment that connects a compute
// cluster to Clusterra. The orchestration is a persistent state machine:
// every stage persists its outputs before the next stage starts, so the
// process can be killed at any point and resume where it left off.
package provisioner

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	toolsaws "github.com/clusterra/cluster-connect/internal/tools/aws"
	"github.com/clusterra/cluster-connect/internal/tools/tofu"
	"github.com/clusterra/cluster-connect/model"
)

// deploymentStore abstracts the persisted-state operations the deployer
// needs. The store owns the backing file; the deployer only proposes
// mutations.
type deploymentStore interface {
	State() *model.DeploymentState
	SetStage(stage model.DeploymentStage) error
	SetFailed(failedStage model.DeploymentStage, message string) error
	Update(mutate func(*model.DeploymentState)) error
	Clear() error
}

// cloudClient abstracts the control-plane calls stage handlers perform.
type cloudClient interface {
	GetRegion() string
	GetAccountID(ctx context.Context) (string, error)
	GetStackStatus(ctx context.Context, stackName string) (string, error)
	GetHeadNodeInstanceID(ctx context.Context, stackName string) (string, error)
	GetInstanceNetwork(ctx context.Context, instanceID string) (*toolsaws.InstanceNetwork, error)
	EnsureInstanceAgentPolicy(ctx context.Context, instanceID string) error
	WaitForAgentOnline(ctx context.Context, instanceID string, timeout time.Duration) error
	RunShellCommands(ctx context.Context, instanceID string, commands []string) (string, error)
	RunScript(ctx context.Context, instanceID, scriptPath string, args []string) (string, error)
	RunScriptPackage(ctx context.Context, instanceID, dir, mainScript string, args []string) (string, error)
	SecretExists(ctx context.Context, secretARN string) (bool, error)
	FindServiceNetworkInvitation(ctx context.Context, nameSubstring, senderAccount string) (*toolsaws.ShareInvitation, error)
	AcceptShareInvitation(ctx context.Context, invitationARN string) error
	IsServiceNetworkVisible(ctx context.Context, serviceNetworkID string) (bool, error)
	AssociateServiceWithNetwork(ctx context.Context, serviceARN, serviceNetworkID string) error
	DisassociateServiceFromNetwork(ctx context.Context, serviceARN, serviceNetworkID string) error
	GenerateIdentityToken(ctx context.Context) (string, error)
}

// infraDriver abstracts the infrastructure-as-code tool.
type infraDriver interface {
	Init() error
	ApplyTarget(target string) error
	Destroy() error
	DestroyTarget(target string) error
	Output(name string) (string, bool, error)
	Onboarding() (*tofu.OnboardingOutputs, error)
}

// clusterCLI abstracts the cluster-provisioning CLI.
type clusterCLI interface {
	CreateCluster(name, configPath string) error
	DeleteCluster(name string) error
	DescribeClusterStatus(name string) (string, error)
}

// registrationClient abstracts the Clusterra registration API.
type registrationClient interface {
	RegisterCluster(ctx context.Context, tenantID string, request *model.RegisterClusterRequest, identityToken string) (*model.RegisterClusterResponse, error)
}

// Params holds the deployment knobs that do not belong in persisted state.
type Params struct {
	// DryRun validates inputs and walks the stage machine without performing
	// any external mutating action.
	DryRun bool
	// GeneratedDir is the local directory the infrastructure tool writes the
	// cluster configuration into.
	GeneratedDir string
	// ScriptsDir is the local directory holding the head node setup scripts.
	ScriptsDir string
	// HooksDir is the local directory holding the event hook package.
	HooksDir string
	// ShareNameSubstring identifies the expected resource share invitation.
	ShareNameSubstring string
	// ShareSenderAccount restricts invitations to the Clusterra account; an
	// empty value accepts any sender.
	ShareSenderAccount string
	// ClusterTimeout bounds the cluster-creation wait. Zero waits as long as
	// the run context allows; cluster creation routinely takes tens of
	// minutes.
	ClusterTimeout time.Duration
}

// Timings collects poll intervals and budgets so tests can compress them.
type Timings struct {
	ClusterPollInterval  time.Duration
	DeletePollInterval   time.Duration
	AgentTimeout         time.Duration
	AgentEscalationWait  time.Duration
	SharePollInterval    time.Duration
	ShareTimeout         time.Duration
	SharePropagationWait time.Duration
}

// DefaultTimings returns the production poll intervals and budgets.
func DefaultTimings() Timings {
	return Timings{
		ClusterPollInterval:  30 * time.Second,
		DeletePollInterval:   10 * time.Second,
		AgentTimeout:         30 * time.Second,
		AgentEscalationWait:  60 * time.Second,
		SharePollInterval:    10 * time.Second,
		ShareTimeout:         5 * time.Minute,
		SharePropagationWait: 5 * time.Second,
	}
}

// Deployer sequences the deployment stages against the external systems.
type Deployer struct {
	store    deploymentStore
	cloud    cloudClient
	infra    infraDriver
	cluster  clusterCLI
	registry registrationClient
	params   Params
	timings  Timings
	logger   log.FieldLogger
}

// NewDeployer creates a deployer wired to the given collaborators.
func NewDeployer(store deploymentStore, cloud cloudClient, infra infraDriver, cluster clusterCLI, registry registrationClient, params Params, logger log.FieldLogger) *Deployer {
	return &Deployer{
		store:    store,
		cloud:    cloud,
		infra:    infra,
		cluster:  cluster,
		registry: registry,
		params:   params,
		timings:  DefaultTimings(),
		logger:   logger,
	}
}

// WithTimings overrides the poll intervals and budgets.
func (d *Deployer) WithTimings(timings Timings) *Deployer {
	d.timings = timings
	return d
}
