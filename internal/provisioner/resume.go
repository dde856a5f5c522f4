// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package provisioner

import (
	"context"

	"github.com/pkg/errors"

	"github.com/clusterra/cluster-connect/model"
)

// RetryFromLastGoodStage clears a recorded failure and re-runs the
// deployment from the stage that failed. Deployments that have not failed
// simply run forward.
func (d *Deployer) RetryFromLastGoodStage(ctx context.Context) error {
	state := d.store.State()
	if state.Stage != model.DeploymentStageFailed {
		return d.Run(ctx)
	}

	resume := resumeStage(state)
	d.logger.Warnf("Resuming failed deployment at stage %s (failed at %s: %s)", resume, state.FailedStage, state.LastError)

	err := d.store.Update(func(s *model.DeploymentState) {
		s.FailedStage = ""
		s.LastError = ""
	})
	if err != nil {
		return errors.Wrap(err, "failed to clear recorded failure")
	}
	if err = d.store.SetStage(resume); err != nil {
		return errors.Wrap(err, "failed to rewind deployment stage")
	}

	return d.Run(ctx)
}

// resumeStage picks the stage a failed deployment should re-enter. The
// recorded failed stage is authoritative; state files written before the
// failed stage was recorded fall back to inferring progress from which
// outputs are present.
func resumeStage(state *model.DeploymentState) model.DeploymentStage {
	if state.FailedStage != "" && state.FailedStage.Index() >= 0 {
		// A failure after connectivity rolls the connectivity outputs back,
		// so the failed stage's preconditions may no longer hold. Rewind to
		// connectivity to rebuild them.
		if state.FailedStage.Index() > model.DeploymentStageConnectivity.Index() && !state.HasConnectivityOutputs() {
			return model.DeploymentStageConnectivity
		}
		return state.FailedStage
	}

	switch {
	case state.RegistrationID != "":
		return model.DeploymentStageEvents
	case state.HasConnectivityOutputs():
		return model.DeploymentStageConnectivity
	case state.ConfigPath != "":
		return model.DeploymentStageClusterPending
	default:
		return model.DeploymentStageNotStarted
	}
}
