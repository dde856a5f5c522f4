// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"github.com/pkg/errors"
)

// DeploymentStage marks one unit of the deployment sequence. A deployment at
// a given stage has fully finished every earlier stage and not yet started
// the stage it carries.
type DeploymentStage string

const (
	// DeploymentStageNotStarted is a deployment that has collected its inputs
	// but performed no external action.
	DeploymentStageNotStarted DeploymentStage = "not-started"
	// DeploymentStageGenerateConfig is a deployment generating the cluster
	// configuration through the infrastructure tool.
	DeploymentStageGenerateConfig DeploymentStage = "generate-config"
	// DeploymentStageClusterPending is a deployment creating the cluster and
	// waiting for the stack to settle.
	DeploymentStageClusterPending DeploymentStage = "cluster-pending"
	// DeploymentStageClusterComplete is a deployment whose cluster is active
	// and whose head node is being resolved.
	DeploymentStageClusterComplete DeploymentStage = "cluster-complete"
	// DeploymentStageConnectivity is a deployment applying the connectivity
	// infrastructure.
	DeploymentStageConnectivity DeploymentStage = "connectivity"
	// DeploymentStageConfigureDaemon is a deployment configuring slurmrestd
	// on the head node.
	DeploymentStageConfigureDaemon DeploymentStage = "configure-daemon"
	// DeploymentStageVerifyDaemon is a deployment verifying that slurmrestd
	// is listening.
	DeploymentStageVerifyDaemon DeploymentStage = "verify-daemon"
	// DeploymentStageEvents is a deployment applying the event pipeline and
	// installing the head node hooks.
	DeploymentStageEvents DeploymentStage = "events"
	// DeploymentStageRegister is a deployment registering with the Clusterra
	// API and wiring the service network association.
	DeploymentStageRegister DeploymentStage = "register"
	// DeploymentStageComplete is a fully connected deployment.
	DeploymentStageComplete DeploymentStage = "complete"
	// DeploymentStageFailed is a deployment that hit a terminal failure.
	DeploymentStageFailed DeploymentStage = "failed"
)

// DeploymentStagesInOrder lists the forward stages in dependency order. The
// failed stage is absorbing and deliberately not part of the order.
var DeploymentStagesInOrder = []DeploymentStage{
	DeploymentStageNotStarted,
	DeploymentStageGenerateConfig,
	DeploymentStageClusterPending,
	DeploymentStageClusterComplete,
	DeploymentStageConnectivity,
	DeploymentStageConfigureDaemon,
	DeploymentStageVerifyDaemon,
	DeploymentStageEvents,
	DeploymentStageRegister,
	DeploymentStageComplete,
}

// deploymentStageMigrations translates stage identifiers written by earlier
// releases of the installer into their current spellings.
var deploymentStageMigrations = map[string]DeploymentStage{
	"NOT_STARTED":      DeploymentStageNotStarted,
	"GENERATE_CONFIG":  DeploymentStageGenerateConfig,
	"CLUSTER_PENDING":  DeploymentStageClusterPending,
	"CLUSTER_COMPLETE": DeploymentStageClusterComplete,
	"CONNECTIVITY":     DeploymentStageConnectivity,
	"CONFIGURE_DAEMON": DeploymentStageConfigureDaemon,
	"VERIFY_DAEMON":    DeploymentStageVerifyDaemon,
	"EVENTS":           DeploymentStageEvents,
	"REGISTER":         DeploymentStageRegister,
	"COMPLETE":         DeploymentStageComplete,
	"FAILED":           DeploymentStageFailed,
	"PHASE_1A_CONFIG":  DeploymentStageGenerateConfig,
	"PHASE_1B_CREATE":  DeploymentStageClusterPending,
	"PHASE_2A_CONNECT": DeploymentStageConnectivity,
	"PHASE_2B_SSM":     DeploymentStageConfigureDaemon,
	"PHASE_3A_EVENTS":  DeploymentStageEvents,
	"PHASE_3B_HOOKS":   DeploymentStageEvents,
	"PHASE_4_REGISTER": DeploymentStageRegister,
}

// Index returns the position of the stage in the forward order, or -1 for
// the failed stage and unknown values.
func (s DeploymentStage) Index() int {
	for i, stage := range DeploymentStagesInOrder {
		if stage == s {
			return i
		}
	}

	return -1
}

// Next returns the stage that follows this one in the forward order.
func (s DeploymentStage) Next() (DeploymentStage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(DeploymentStagesInOrder) {
		return "", false
	}

	return DeploymentStagesInOrder[i+1], true
}

// Terminal determines whether the stage ends a run.
func (s DeploymentStage) Terminal() bool {
	return s == DeploymentStageComplete || s == DeploymentStageFailed
}

// String casts the stage back to a plain string.
func (s DeploymentStage) String() string {
	return string(s)
}

// ParseDeploymentStage resolves a raw stage identifier, translating legacy
// spellings through the migration map. Identifiers with no current match and
// no mapping are an unrecoverable load error.
func ParseDeploymentStage(raw string) (DeploymentStage, error) {
	stage := DeploymentStage(raw)
	if stage == DeploymentStageFailed || stage.Index() >= 0 {
		return stage, nil
	}

	if migrated, ok := deploymentStageMigrations[raw]; ok {
		return migrated, nil
	}

	return "", errors.Errorf("unknown deployment stage %q", raw)
}
