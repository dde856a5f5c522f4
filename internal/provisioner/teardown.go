// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package provisioner

import (
	"context"

	"github.com/pkg/errors"

	"github.com/clusterra/cluster-connect/internal/tools/utils"
	"github.com/clusterra/cluster-connect/model"
)

// Teardown deletes the named cluster and destroys the supporting
// infrastructure. The cluster is removed first because its compute still
// depends on the networking the infrastructure provides. Persisted state is
// only cleared when it belongs to the cluster being torn down.
func (d *Deployer) Teardown(ctx context.Context, clusterName string) error {
	if clusterName == "" {
		return errors.New("cluster name is required")
	}
	logger := d.logger.WithField("cluster", clusterName)

	status, err := d.clusterStatus(ctx, clusterName)
	if err != nil {
		return errors.Wrap(err, "failed to determine cluster status")
	}

	if model.ClusterStatusDeleted(status) {
		logger.Info("Cluster already deleted")
	} else if d.params.DryRun {
		logger.Infof("Dry run: would delete cluster (currently %s)", status)
	} else {
		if status != model.ClusterStatusDeleteInProgress {
			logger.Info("Deleting cluster")
			if err = d.cluster.DeleteCluster(clusterName); err != nil {
				return errors.Wrap(err, "failed to delete cluster")
			}
		} else {
			logger.Info("Cluster deletion already in progress; waiting")
		}

		err = utils.WaitForFunc(ctx, utils.WaitConfig{
			Interval: d.timings.DeletePollInterval,
			Logger:   logger,
		}, func() (bool, error) {
			status, err := d.clusterStatus(ctx, clusterName)
			if err != nil {
				return false, errors.Wrap(err, "failed to poll cluster status")
			}
			if status == model.ClusterStatusDeleteFailed {
				return false, errors.Errorf("cluster deletion failed with status %s", status)
			}
			if model.ClusterStatusDeleted(status) {
				return true, nil
			}
			logger.Infof("Cluster is %s", status)

			return false, nil
		})
		if err != nil {
			return err
		}
		logger.Info("Cluster deleted")
	}

	state := d.store.State()
	if state.ClusterName != "" && state.ClusterName != clusterName {
		logger.Warnf("Recorded deployment belongs to cluster %s; preserving its state and infrastructure", state.ClusterName)
		return nil
	}

	if d.params.DryRun {
		logger.Info("Dry run: would destroy supporting infrastructure")
		return nil
	}

	if state.HasConnectivityOutputs() {
		if err = d.cloud.DisassociateServiceFromNetwork(ctx, state.ServiceARN, state.ServiceNetworkID); err != nil {
			logger.WithError(err).Warn("Failed to disassociate service from service network; continuing with destroy")
		}
	}

	logger.Info("Destroying supporting infrastructure")
	if err = d.infra.Destroy(); err != nil {
		return errors.Wrap(err, "failed to destroy supporting infrastructure")
	}

	if err = d.store.Clear(); err != nil {
		return errors.Wrap(err, "failed to clear deployment state")
	}
	logger.Info("Teardown complete")

	return nil
}
