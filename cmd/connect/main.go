// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package main is the entry point to the Clusterra cluster connection tool.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect is a tool to deploy compute clusters and connect them to Clusterra.",
	// SilenceErrors allows us to explicitly log the error returned from rootCmd below.
	SilenceErrors: true,
	PersistentPreRunE: func(command *cobra.Command, args []string) error {
		viper.SetEnvPrefix("CONNECT")
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.AutomaticEnv()

		return viper.BindPFlags(command.Flags())
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
