// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package provisioner

import (
	"context"

	"github.com/clusterra/cluster-connect/model"
)

// maybeRollback tears the connectivity infrastructure back down when a stage
// after connectivity fails. Earlier failures leave nothing to roll back, and
// the failure that is being handled already persisted, so rollback problems
// are logged rather than escalated.
func (d *Deployer) maybeRollback(ctx context.Context, failedStage model.DeploymentStage) {
	if d.params.DryRun {
		return
	}
	if failedStage.Index() <= model.DeploymentStageConnectivity.Index() {
		return
	}

	state := d.store.State()
	if !state.HasConnectivityOutputs() {
		return
	}

	d.RollbackConnectivity(ctx, state)
}

// RollbackConnectivity removes the service network association and destroys
// the connectivity infrastructure. The association must go first: destroying
// the service while it is still associated leaves the service network in a
// broken state. Recorded outputs are cleared afterwards so a retry re-applies
// connectivity from scratch.
func (d *Deployer) RollbackConnectivity(ctx context.Context, state *model.DeploymentState) {
	d.logger.Warn("Rolling back connectivity infrastructure")

	if err := d.cloud.DisassociateServiceFromNetwork(ctx, state.ServiceARN, state.ServiceNetworkID); err != nil {
		d.logger.WithError(err).Error("Failed to disassociate service from service network; manual cleanup may be required")
	}

	if err := d.infra.DestroyTarget(targetConnectivity); err != nil {
		d.logger.WithError(err).Error("Failed to destroy connectivity infrastructure; manual cleanup may be required")
		return
	}

	err := d.store.Update(func(s *model.DeploymentState) {
		s.ServiceEndpoint = ""
		s.ServiceARN = ""
		s.ServiceNetworkID = ""
		s.SlurmPort = 0
		s.SlurmJWTSecretARN = ""
		s.RoleARN = ""
		s.ExternalID = ""
	})
	if err != nil {
		d.logger.WithError(err).Error("Failed to clear connectivity outputs after rollback")
		return
	}

	d.logger.Info("Connectivity infrastructure rolled back")
}
