// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clusterra/cluster-connect/internal/store"
	"github.com/clusterra/cluster-connect/model"
)

func init() {
	statusCmd.Flags().String("state-file", filepath.Join("generated", "deploy-state.json"), "The file the deployment state is persisted to.")
	resetCmd.Flags().String("state-file", filepath.Join("generated", "deploy-state.json"), "The file the deployment state is persisted to.")
	resetCmd.Flags().Bool("confirm", false, "Confirm discarding the recorded deployment state.")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded deployment state.",
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		deploymentStore := store.New(viper.GetString("state-file"), logger)
		state, err := deploymentStore.Load()
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(state, "", "    ")
		if err != nil {
			return errors.Wrap(err, "failed to render deployment state")
		}
		fmt.Println(string(data))

		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the recorded deployment state.",
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		if !viper.GetBool("confirm") {
			return errors.New("resetting discards all recorded deployment progress; pass --confirm to proceed")
		}

		deploymentStore := store.New(viper.GetString("state-file"), logger)
		state, err := deploymentStore.Load()
		if err != nil {
			return err
		}
		if state.Stage != model.DeploymentStageNotStarted {
			logger.Warnf("Discarding deployment of cluster %s at stage %s", state.ClusterName, state.Stage)
		}

		return deploymentStore.Clear()
	},
}
