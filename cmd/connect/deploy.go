// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clusterra/cluster-connect/model"
)

func init() {
	addDeploymentFlags(deployCmd)

	deployCmd.Flags().String("cluster-name", "", "The name of the cluster to deploy or connect.")
	deployCmd.Flags().String("cluster-id", "", "The cluster identifier. Generated when not provided.")
	deployCmd.Flags().String("tenant", "", "The Clusterra tenant to register the cluster with. Skips registration when empty.")
	deployCmd.Flags().String("scenario", model.ScenarioNewCluster, "Whether to create a new cluster or connect an existing one (new|existing).")
	deployCmd.Flags().String("head-node", "", "The head node instance id of an existing cluster.")
	deployCmd.Flags().String("vpc", "", "The VPC to deploy into.")
	deployCmd.Flags().String("subnet", "", "The subnet the head node lives in.")
	deployCmd.Flags().String("secondary-subnet", "", "An additional subnet for compute nodes.")
	deployCmd.Flags().String("ssh-key", "", "The EC2 key pair name for head node access.")
	deployCmd.Flags().String("api-url", "https://api.clusterra.com", "The Clusterra API address.")
	deployCmd.Flags().String("scripts-dir", "scripts", "The local directory holding the head node setup scripts.")
	deployCmd.Flags().String("hooks-dir", filepath.Join("scripts", "hooks"), "The local directory holding the job hook package.")
	deployCmd.Flags().String("share-name", "clusterra-service-network", "The substring identifying the Clusterra resource share invitation.")
	deployCmd.Flags().String("share-sender-account", "", "Restrict resource share invitations to this AWS account.")
	deployCmd.Flags().Duration("cluster-timeout", 90*time.Minute, "How long to wait for cluster creation. Set to 0 to wait indefinitely.")
	deployCmd.Flags().Bool("retry", false, "Resume a previously failed deployment from the stage that failed.")
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a cluster and connect it to Clusterra.",
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		ctx, stop := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		deployment, err := newDeployment(ctx)
		if err != nil {
			return err
		}
		if err = seedDeploymentState(deployment); err != nil {
			return err
		}

		if viper.GetBool("retry") {
			err = deployment.deployer.RetryFromLastGoodStage(ctx)
		} else {
			err = deployment.deployer.Run(ctx)
		}
		if errors.Is(err, context.Canceled) {
			logger.Info("Deployment paused; run deploy again to resume")
			return nil
		}

		return err
	},
}

// seedDeploymentState copies the command-line inputs into a fresh deployment
// state. A state file carried over from an earlier run keeps its recorded
// inputs; supplying a different cluster name against it is an error rather
// than a silent switch.
func seedDeploymentState(deployment *deployment) error {
	state := deployment.store.State()
	clusterName := viper.GetString("cluster-name")
	if clusterName == "" && state.ClusterName == "" {
		return errors.New("a cluster name is required; pass --cluster-name or set CONNECT_CLUSTER_NAME")
	}

	if state.ClusterName != "" {
		if clusterName != "" && clusterName != state.ClusterName {
			return errors.Errorf("state file records a deployment of cluster %s; reset it before deploying %s", state.ClusterName, clusterName)
		}
		return nil
	}

	return deployment.store.Update(func(s *model.DeploymentState) {
		s.ClusterName = clusterName
		s.ClusterID = viper.GetString("cluster-id")
		s.TenantID = viper.GetString("tenant")
		s.Scenario = viper.GetString("scenario")
		s.Region = deployment.region
		s.HeadNodeInstanceID = viper.GetString("head-node")
		s.VpcID = viper.GetString("vpc")
		s.SubnetID = viper.GetString("subnet")
		s.SecondarySubnetID = viper.GetString("secondary-subnet")
		s.SSHKeyName = viper.GetString("ssh-key")
	})
}
