// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/aughey/framebridge/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the framehost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "framehost",
		Short: "framehost - a simulated frame host for framebridge plugins",
		Long: `framehost loads the framebridge runtime in-process and plays the part
of the host: it constructs plugin instances, ticks them every frame, and
tears them down again when a plugin asks for shutdown.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}
