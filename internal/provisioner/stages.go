// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package provisioner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/clusterra/cluster-connect/internal/registry"
	"github.com/clusterra/cluster-connect/internal/tools/utils"
	"github.com/clusterra/cluster-connect/model"
)

const (
	targetParallelCluster = "module.parallelcluster"
	targetConnectivity    = "module.connectivity"
	targetEvents          = "module.events"

	eventsQueueOutputName = "events_sqs_url"

	setupDaemonScript  = "setup-slurmrestd.sh"
	installHooksScript = "install-hooks.sh"

	// slurmrestd listens on this port on the head node.
	daemonPort = "6830"

	// dryRunHeadNodeID stands in for the head node when no cluster exists.
	dryRunHeadNodeID = "i-MOCKHEADNODE12345"
)

type stageHandler func(ctx context.Context, state *model.DeploymentState) error

func (d *Deployer) handlers() map[model.DeploymentStage]stageHandler {
	return map[model.DeploymentStage]stageHandler{
		model.DeploymentStageNotStarted:      d.beginDeployment,
		model.DeploymentStageGenerateConfig:  d.generateConfig,
		model.DeploymentStageClusterPending:  d.waitForCluster,
		model.DeploymentStageClusterComplete: d.resolveHeadNode,
		model.DeploymentStageConnectivity:    d.applyConnectivity,
		model.DeploymentStageConfigureDaemon: d.configureDaemon,
		model.DeploymentStageVerifyDaemon:    d.verifyDaemon,
		model.DeploymentStageEvents:          d.deployEvents,
		model.DeploymentStageRegister:        d.register,
	}
}

// Run executes stages one at a time until the deployment completes, a stage
// fails, or the context is canceled. Each successful stage advances the
// persisted state by exactly one step before the next handler starts, so an
// interrupted run picks up at the stage that was executing.
func (d *Deployer) Run(ctx context.Context) error {
	handlers := d.handlers()

	for {
		state := d.store.State()

		if state.Stage == model.DeploymentStageComplete {
			d.logger.Info("Deployment is complete")
			return nil
		}
		if state.Stage == model.DeploymentStageFailed {
			return errors.Errorf("deployment previously failed at stage %s: %s; retry or reset to continue", state.FailedStage, state.LastError)
		}

		handler, ok := handlers[state.Stage]
		if !ok {
			return errors.Errorf("no handler for stage %s", state.Stage)
		}

		logger := d.logger.WithField("stage", state.Stage.String())
		logger.Info("Executing stage")

		err := handler(ctx, state)
		if err != nil {
			if interrupted(ctx, err) {
				logger.Info("Deployment interrupted; run again to resume")
				return err
			}

			logger.WithError(err).Error("Stage failed")
			if saveErr := d.store.SetFailed(state.Stage, err.Error()); saveErr != nil {
				logger.WithError(saveErr).Error("Failed to record deployment failure")
			}
			d.maybeRollback(context.WithoutCancel(ctx), state.Stage)

			return err
		}

		next, ok := state.Stage.Next()
		if !ok {
			return errors.Errorf("stage %s has no successor", state.Stage)
		}
		if err = d.store.SetStage(next); err != nil {
			return errors.Wrap(err, "failed to persist stage transition")
		}
		logger.Infof("Stage complete; advancing to %s", next)
	}
}

// interrupted distinguishes a canceled run, which resumes cleanly, from a
// stage failure, which marks the deployment failed.
func interrupted(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil
}

// beginDeployment validates the collected inputs and assigns the cluster
// identity. The existing-cluster scenario additionally verifies the supplied
// head node and fills in its network placement.
func (d *Deployer) beginDeployment(ctx context.Context, state *model.DeploymentState) error {
	if state.ClusterName == "" {
		return errors.New("cluster name is required")
	}
	if state.Region == "" {
		return errors.New("region is required")
	}
	if state.Scenario != model.ScenarioNewCluster && state.Scenario != model.ScenarioExistingCluster {
		return errors.Errorf("unknown scenario %q", state.Scenario)
	}
	if state.ClusterID != "" && !model.IsValidClusterID(state.ClusterID) {
		return errors.Errorf("invalid cluster id %q", state.ClusterID)
	}
	if state.TenantID == "" {
		d.logger.Warn("No tenant configured; the cluster will be deployed but not registered")
	}

	if state.ClusterID == "" {
		clusterID := model.NewClusterID()
		d.logger.Infof("Assigned cluster id %s", clusterID)
		err := d.store.Update(func(s *model.DeploymentState) {
			s.ClusterID = clusterID
		})
		if err != nil {
			return errors.Wrap(err, "failed to record cluster id")
		}
	}

	if !state.IsNewCluster() {
		if state.HeadNodeInstanceID == "" {
			return errors.New("existing-cluster deployments require a head node instance id")
		}
		if d.params.DryRun {
			return nil
		}

		network, err := d.cloud.GetInstanceNetwork(ctx, state.HeadNodeInstanceID)
		if err != nil {
			return errors.Wrapf(err, "failed to verify head node %s", state.HeadNodeInstanceID)
		}
		if network.State != "running" && network.State != "pending" {
			d.logger.Warnf("Head node %s is %s; continuing anyway", state.HeadNodeInstanceID, network.State)
		}
		if state.VpcID == "" || state.SubnetID == "" {
			err = d.store.Update(func(s *model.DeploymentState) {
				if s.VpcID == "" {
					s.VpcID = network.VpcID
				}
				if s.SubnetID == "" {
					s.SubnetID = network.SubnetID
				}
			})
			if err != nil {
				return errors.Wrap(err, "failed to record head node network")
			}
		}
	}

	return nil
}

func (d *Deployer) configPath(state *model.DeploymentState) string {
	return filepath.Join(d.params.GeneratedDir, fmt.Sprintf("%s-config.yaml", state.ClusterName))
}

// generateConfig renders the cluster configuration through the
// infrastructure tool. Existing clusters bring their own configuration, so
// the stage is a no-op for them.
func (d *Deployer) generateConfig(_ context.Context, state *model.DeploymentState) error {
	if !state.IsNewCluster() {
		d.logger.Debug("Existing cluster; skipping configuration generation")
		return nil
	}

	configPath := d.configPath(state)
	if state.ConfigPath != "" {
		if _, err := os.Stat(state.ConfigPath); err == nil {
			d.logger.Infof("Cluster configuration already generated at %s", state.ConfigPath)
			return nil
		}
		d.logger.Warnf("Recorded configuration %s is missing; regenerating", state.ConfigPath)
	}

	if d.params.DryRun {
		d.logger.Infof("Dry run: would generate cluster configuration at %s", configPath)
		return d.store.Update(func(s *model.DeploymentState) {
			s.ConfigPath = configPath
		})
	}

	if err := d.infra.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize infrastructure tool")
	}
	if err := d.infra.ApplyTarget(targetParallelCluster); err != nil {
		return errors.Wrap(err, "failed to generate cluster configuration")
	}
	if _, err := os.Stat(configPath); err != nil {
		return errors.Wrapf(err, "cluster configuration %s was not produced", configPath)
	}

	return d.store.Update(func(s *model.DeploymentState) {
		s.ConfigPath = configPath
	})
}

// clusterStatus resolves the cluster stack status, preferring the cluster
// CLI and falling back to the stack directly when the CLI is unavailable.
func (d *Deployer) clusterStatus(ctx context.Context, name string) (string, error) {
	status, err := d.cluster.DescribeClusterStatus(name)
	if err == nil {
		return status, nil
	}
	d.logger.WithError(err).Debug("Cluster CLI describe failed; falling back to stack status")

	return d.cloud.GetStackStatus(ctx, name)
}

// waitForCluster creates the cluster if it does not exist and waits for the
// stack to settle. Re-entering the stage with creation already in progress
// resumes the wait without issuing a second create.
func (d *Deployer) waitForCluster(ctx context.Context, state *model.DeploymentState) error {
	if !state.IsNewCluster() {
		d.logger.Debug("Existing cluster; skipping cluster creation")
		return nil
	}
	if state.ConfigPath == "" {
		return errors.New("no cluster configuration recorded; deployment state is out of order")
	}

	if d.params.DryRun {
		d.logger.Infof("Dry run: would create cluster %s from %s", state.ClusterName, state.ConfigPath)
		return nil
	}

	status, err := d.clusterStatus(ctx, state.ClusterName)
	if err != nil {
		return errors.Wrap(err, "failed to determine cluster status")
	}

	switch {
	case status == model.ClusterStatusCreateComplete:
		d.logger.Infof("Cluster %s already active", state.ClusterName)
		return nil
	case model.ClusterStatusIsFailure(status):
		return errors.Errorf("cluster %s is in state %s; delete it before retrying", state.ClusterName, status)
	case status == model.ClusterStatusNotFound:
		if _, err = os.Stat(state.ConfigPath); err != nil {
			return errors.Wrapf(err, "cluster configuration %s is missing", state.ConfigPath)
		}
		d.logger.Infof("Creating cluster %s", state.ClusterName)
		if err = d.cluster.CreateCluster(state.ClusterName, state.ConfigPath); err != nil {
			return errors.Wrap(err, "failed to create cluster")
		}
	default:
		d.logger.Infof("Cluster %s is %s; resuming wait", state.ClusterName, status)
	}

	err = utils.WaitForFunc(ctx, utils.WaitConfig{
		Timeout:  d.params.ClusterTimeout,
		Interval: d.timings.ClusterPollInterval,
		Logger:   d.logger.WithField("cluster", state.ClusterName),
	}, func() (bool, error) {
		status, err := d.clusterStatus(ctx, state.ClusterName)
		if err != nil {
			return false, errors.Wrap(err, "failed to poll cluster status")
		}
		if model.ClusterStatusIsFailure(status) {
			return false, errors.Errorf("cluster creation failed with status %s", status)
		}
		if status == model.ClusterStatusCreateComplete {
			return true, nil
		}
		d.logger.Infof("Cluster %s is %s", state.ClusterName, status)

		return false, nil
	})
	if err != nil {
		if errors.Is(err, utils.ErrWaitTimeout) {
			return errors.Errorf("timed out waiting for cluster %s to become active", state.ClusterName)
		}
		return err
	}

	return nil
}

// resolveHeadNode records the head node instance backing the now-active
// cluster stack.
func (d *Deployer) resolveHeadNode(ctx context.Context, state *model.DeploymentState) error {
	if state.HeadNodeInstanceID != "" {
		d.logger.Debugf("Head node already resolved to %s", state.HeadNodeInstanceID)
		return nil
	}

	instanceID := dryRunHeadNodeID
	if !d.params.DryRun {
		var err error
		instanceID, err = d.cloud.GetHeadNodeInstanceID(ctx, state.ClusterName)
		if err != nil {
			return errors.Wrap(err, "failed to look up head node")
		}
		if instanceID == "" {
			return errors.Errorf("cluster %s has no head node; is the cluster active?", state.ClusterName)
		}
	}

	d.logger.Infof("Head node resolved to %s", instanceID)

	return d.store.Update(func(s *model.DeploymentState) {
		s.HeadNodeInstanceID = instanceID
	})
}

// applyConnectivity applies the connectivity infrastructure and records its
// outputs. Re-entering the stage with outputs already recorded skips the
// apply.
func (d *Deployer) applyConnectivity(ctx context.Context, state *model.DeploymentState) error {
	if state.HeadNodeInstanceID == "" {
		return errors.New("no head node recorded; deployment state is out of order")
	}
	if state.HasConnectivityOutputs() && state.SlurmJWTSecretARN != "" {
		d.logger.Info("Connectivity outputs already recorded; skipping apply")
		return nil
	}

	if d.params.DryRun {
		d.logger.Info("Dry run: would apply connectivity infrastructure")
		return nil
	}

	// Attaching the agent policy early gives it time to propagate before the
	// daemon configuration stage needs the agent.
	if err := d.cloud.EnsureInstanceAgentPolicy(ctx, state.HeadNodeInstanceID); err != nil {
		d.logger.WithError(err).Warn("Failed to attach agent policy to head node role; continuing")
	}

	if err := d.infra.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize infrastructure tool")
	}
	if err := d.infra.ApplyTarget(targetConnectivity); err != nil {
		return errors.Wrap(err, "failed to apply connectivity infrastructure")
	}

	onboarding, err := d.infra.Onboarding()
	if err != nil {
		return errors.Wrap(err, "failed to read connectivity outputs")
	}
	if onboarding.ServiceARN == "" || onboarding.ServiceNetworkID == "" {
		return errors.New("connectivity outputs are incomplete")
	}

	return d.store.Update(func(s *model.DeploymentState) {
		s.ServiceEndpoint = onboarding.ServiceEndpoint
		s.ServiceARN = onboarding.ServiceARN
		s.ServiceNetworkID = onboarding.ServiceNetworkID
		s.SlurmPort = onboarding.SlurmPort
		s.SlurmJWTSecretARN = onboarding.SlurmJWTSecretARN
		s.RoleARN = onboarding.RoleARN
		s.ExternalID = onboarding.ExternalID
	})
}

// daemonListening probes whether slurmrestd is already listening on the head
// node. Probe failures are treated as not listening.
func (d *Deployer) daemonListening(ctx context.Context, instanceID string) bool {
	_, err := d.cloud.RunShellCommands(ctx, instanceID, []string{
		fmt.Sprintf("sudo ss -tlnp | grep %s", daemonPort),
	})

	return err == nil
}

// waitForAgent waits for the head node agent to come online, allowing one
// extended grace period for a freshly attached instance policy to propagate.
func (d *Deployer) waitForAgent(ctx context.Context, instanceID string) error {
	err := d.cloud.WaitForAgentOnline(ctx, instanceID, d.timings.AgentTimeout)
	if err == nil {
		return nil
	}
	if interrupted(ctx, err) {
		return err
	}

	d.logger.Warnf("Agent on %s not yet online; waiting for policy propagation", instanceID)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.timings.AgentEscalationWait):
	}

	err = d.cloud.WaitForAgentOnline(ctx, instanceID, d.timings.AgentTimeout)
	if err != nil {
		return errors.Wrapf(err, "agent on %s never came online", instanceID)
	}

	return nil
}

// configureDaemon installs and starts slurmrestd on the head node.
func (d *Deployer) configureDaemon(ctx context.Context, state *model.DeploymentState) error {
	if state.HeadNodeInstanceID == "" {
		return errors.New("no head node recorded; deployment state is out of order")
	}
	if state.SlurmJWTSecretARN == "" {
		return errors.New("no JWT secret recorded; deployment state is out of order")
	}

	if d.params.DryRun {
		d.logger.Info("Dry run: would configure slurmrestd on the head node")
		return nil
	}

	if err := d.waitForAgent(ctx, state.HeadNodeInstanceID); err != nil {
		return err
	}

	if d.daemonListening(ctx, state.HeadNodeInstanceID) {
		d.logger.Infof("slurmrestd already listening on port %s; skipping setup", daemonPort)
		return nil
	}

	exists, err := d.cloud.SecretExists(ctx, state.SlurmJWTSecretARN)
	if err != nil {
		return errors.Wrap(err, "failed to check JWT secret")
	}
	if !exists {
		return errors.Errorf("JWT secret %s does not exist", state.SlurmJWTSecretARN)
	}

	scriptPath := filepath.Join(d.params.ScriptsDir, setupDaemonScript)
	d.logger.Infof("Configuring slurmrestd on %s", state.HeadNodeInstanceID)
	output, err := d.cloud.RunScript(ctx, state.HeadNodeInstanceID, scriptPath, []string{state.SlurmJWTSecretARN})
	if err != nil {
		return errors.Wrap(err, "failed to configure slurmrestd")
	}
	d.logger.Debugf("slurmrestd setup output: %s", output)

	return nil
}

// verifyDaemon confirms slurmrestd is listening after setup.
func (d *Deployer) verifyDaemon(ctx context.Context, state *model.DeploymentState) error {
	if d.params.DryRun {
		d.logger.Info("Dry run: would verify slurmrestd is listening")
		return nil
	}

	if !d.daemonListening(ctx, state.HeadNodeInstanceID) {
		return errors.Errorf("slurmrestd is not listening on port %s after setup", daemonPort)
	}
	d.logger.Infof("slurmrestd is listening on port %s", daemonPort)

	return nil
}

// deployEvents applies the event pipeline infrastructure and installs the
// job lifecycle hooks on the head node. The hook install is idempotent and
// re-runs on every pass; only the infrastructure apply is skipped once its
// output is recorded.
func (d *Deployer) deployEvents(ctx context.Context, state *model.DeploymentState) error {
	if d.params.DryRun {
		d.logger.Info("Dry run: would deploy the event pipeline and install hooks")
		return nil
	}

	queueURL := state.EventsQueueURL
	if queueURL == "" {
		if err := d.infra.ApplyTarget(targetEvents); err != nil {
			return errors.Wrap(err, "failed to apply event pipeline infrastructure")
		}

		url, ok, err := d.infra.Output(eventsQueueOutputName)
		if err != nil {
			return errors.Wrap(err, "failed to read event pipeline outputs")
		}
		if !ok || url == "" {
			return errors.Errorf("event pipeline did not export %s", eventsQueueOutputName)
		}
		queueURL = url

		err = d.store.Update(func(s *model.DeploymentState) {
			s.EventsQueueURL = queueURL
		})
		if err != nil {
			return errors.Wrap(err, "failed to record events queue")
		}
	} else {
		d.logger.Info("Event pipeline already deployed; skipping apply")
	}

	d.logger.Infof("Installing job hooks on %s", state.HeadNodeInstanceID)
	output, err := d.cloud.RunScriptPackage(ctx, state.HeadNodeInstanceID, d.params.HooksDir, installHooksScript, []string{queueURL})
	if err != nil {
		return errors.Wrap(err, "failed to install job hooks")
	}
	d.logger.Debugf("Hook install output: %s", output)

	return nil
}

// register registers the cluster with the Clusterra API and completes the
// service network association. A request timeout is not treated as a failure
// because the registration may have been accepted; the resource share wait
// that follows resolves the ambiguity.
func (d *Deployer) register(ctx context.Context, state *model.DeploymentState) error {
	if state.TenantID == "" {
		d.logger.Warn("No tenant configured; skipping registration")
		return nil
	}
	if state.RegistrationID != "" {
		d.logger.Infof("Cluster already registered as %s", state.RegistrationID)
		if !d.params.DryRun {
			// Re-associating is safe; an existing association is not an error.
			if err := d.cloud.AssociateServiceWithNetwork(ctx, state.ServiceARN, state.ServiceNetworkID); err != nil {
				return errors.Wrap(err, "failed to verify service network association")
			}
		}
		return nil
	}

	if d.params.DryRun {
		d.logger.Infof("Dry run: would register cluster %s with tenant %s", state.ClusterID, state.TenantID)
		return nil
	}

	accountID, err := d.cloud.GetAccountID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to resolve account id")
	}

	request, err := model.NewRegisterClusterRequestFromState(state, accountID, state.SlurmPort)
	if err != nil {
		return errors.Wrap(err, "deployment state is not ready for registration")
	}

	identityToken, err := d.cloud.GenerateIdentityToken(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to generate identity token")
	}

	registrationID := state.ClusterID
	response, err := d.registry.RegisterCluster(ctx, state.TenantID, request, identityToken)
	switch {
	case err == nil:
		if response.RegistrationID != "" {
			registrationID = response.RegistrationID
		}
		d.logger.Infof("Registered cluster %s as %s", state.ClusterID, registrationID)
	case errors.Is(err, registry.ErrTimeout):
		// The API may have accepted the registration before the response was
		// lost. The invitation wait below confirms either way.
		d.logger.WithError(err).Warn("Registration request timed out; checking for the resource share anyway")
	default:
		return errors.Wrap(err, "failed to register cluster")
	}

	if err = d.waitForServiceNetwork(ctx, state); err != nil {
		return err
	}

	if err = d.cloud.AssociateServiceWithNetwork(ctx, state.ServiceARN, state.ServiceNetworkID); err != nil {
		return errors.Wrap(err, "failed to associate service with service network")
	}
	d.logger.Info("Service associated with the Clusterra service network")

	return d.store.Update(func(s *model.DeploymentState) {
		s.RegistrationID = registrationID
	})
}

// waitForServiceNetwork waits until the Clusterra service network is visible
// in this account, accepting the resource share invitation if one arrives.
func (d *Deployer) waitForServiceNetwork(ctx context.Context, state *model.DeploymentState) error {
	logger := d.logger.WithField("service-network", state.ServiceNetworkID)

	err := utils.WaitForFunc(ctx, utils.WaitConfig{
		Timeout:  d.timings.ShareTimeout,
		Interval: d.timings.SharePollInterval,
		Logger:   logger,
	}, func() (bool, error) {
		visible, err := d.cloud.IsServiceNetworkVisible(ctx, state.ServiceNetworkID)
		if err != nil {
			return false, errors.Wrap(err, "failed to check service network visibility")
		}
		if visible {
			return true, nil
		}

		invitation, err := d.cloud.FindServiceNetworkInvitation(ctx, d.params.ShareNameSubstring, d.params.ShareSenderAccount)
		if err != nil {
			logger.WithError(err).Warn("Failed to look for resource share invitation; will retry")
			return false, nil
		}
		if invitation == nil {
			logger.Debug("No resource share invitation yet")
			return false, nil
		}
		if invitation.Pending() {
			logger.Infof("Accepting resource share invitation %s", invitation.ARN)
			if err = d.cloud.AcceptShareInvitation(ctx, invitation.ARN); err != nil {
				return false, errors.Wrap(err, "failed to accept resource share invitation")
			}
			// Shared resources take a moment to show up after acceptance.
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(d.timings.SharePropagationWait):
			}
		}

		return false, nil
	})
	if err != nil {
		if errors.Is(err, utils.ErrWaitTimeout) {
			return errors.Errorf("timed out waiting for service network %s to become visible", state.ServiceNetworkID)
		}
		return err
	}

	return nil
}
