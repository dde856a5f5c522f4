// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clusterra/cluster-connect/internal/provisioner"
	"github.com/clusterra/cluster-connect/internal/registry"
	"github.com/clusterra/cluster-connect/internal/store"
	toolsaws "github.com/clusterra/cluster-connect/internal/tools/aws"
	"github.com/clusterra/cluster-connect/internal/tools/pcluster"
	"github.com/clusterra/cluster-connect/internal/tools/tofu"
)

// addDeploymentFlags registers the flags shared by every command that talks
// to the deployment's external systems. Each flag can also be supplied as a
// CONNECT_-prefixed environment variable.
func addDeploymentFlags(command *cobra.Command) {
	command.Flags().Bool("dry-run", false, "Validate inputs and walk the deployment without performing any external mutating action.")
	command.Flags().Bool("debug", false, "Enable debug logging.")
	command.Flags().String("profile", "", "The AWS shared-config profile to use.")
	command.Flags().String("region", "", "The AWS region to deploy into. Defaults to the profile's region.")
	command.Flags().String("state-file", filepath.Join("generated", "deploy-state.json"), "The file the deployment state is persisted to.")
	command.Flags().String("working-dir", ".", "The directory holding the infrastructure definitions.")
	command.Flags().String("var-file", filepath.Join("generated", "terraform.tfvars"), "The variable file passed to the infrastructure tool, relative to the working directory.")
	command.Flags().String("generated-dir", "generated", "The directory generated artifacts are written to, relative to the working directory.")
}

// deployment bundles everything a command needs to drive a deployment.
type deployment struct {
	store    *store.DeploymentStore
	deployer *provisioner.Deployer
	region   string
}

// newDeployment constructs the deployment store, tool drivers, and deployer
// from the bound flags.
func newDeployment(ctx context.Context) (*deployment, error) {
	setDebugLogging(viper.GetBool("debug"))

	deploymentStore := store.New(viper.GetString("state-file"), logger)
	if _, err := deploymentStore.Load(); err != nil {
		return nil, err
	}

	cloud, err := toolsaws.NewClient(ctx, viper.GetString("profile"), viper.GetString("region"), logger)
	if err != nil {
		return nil, err
	}

	workingDir := viper.GetString("working-dir")
	infra, err := tofu.New(workingDir, viper.GetString("var-file"), logger)
	if err != nil {
		return nil, err
	}

	cluster, err := pcluster.New(cloud.GetRegion(), logger)
	if err != nil {
		return nil, err
	}

	registryClient := registry.NewClient(viper.GetString("api-url"), logger)

	generatedDir := viper.GetString("generated-dir")
	if !filepath.IsAbs(generatedDir) {
		generatedDir = filepath.Join(workingDir, generatedDir)
	}

	params := provisioner.Params{
		DryRun:             viper.GetBool("dry-run"),
		GeneratedDir:       generatedDir,
		ScriptsDir:         viper.GetString("scripts-dir"),
		HooksDir:           viper.GetString("hooks-dir"),
		ShareNameSubstring: viper.GetString("share-name"),
		ShareSenderAccount: viper.GetString("share-sender-account"),
		ClusterTimeout:     viper.GetDuration("cluster-timeout"),
	}

	return &deployment{
		store:    deploymentStore,
		deployer: provisioner.NewDeployer(deploymentStore, cloud, infra, cluster, registryClient, params, logger),
		region:   cloud.GetRegion(),
	}, nil
}
