// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	addDeploymentFlags(teardownCmd)

	teardownCmd.Flags().String("cluster-name", "", "The name of the cluster to tear down.")
	teardownCmd.Flags().Bool("force", false, "Tear down even when the named cluster does not match the recorded deployment.")
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Delete a cluster and destroy its supporting infrastructure.",
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		ctx, stop := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		deployment, err := newDeployment(ctx)
		if err != nil {
			return err
		}

		clusterName := viper.GetString("cluster-name")
		if !viper.GetBool("force") {
			recorded := deployment.store.State().ClusterName
			if recorded != "" && recorded != clusterName {
				return errors.Errorf("recorded deployment is for cluster %s, not %s; pass --force to tear down anyway", recorded, clusterName)
			}
		}

		err = deployment.deployer.Teardown(ctx, clusterName)
		if errors.Is(err, context.Canceled) {
			logger.Info("Teardown interrupted; run teardown again to resume")
			return nil
		}

		return err
	},
}
