// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gatekeep/gatekeep/internal/config"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the gatekeep CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeep",
		Short: "gatekeep - account and session service",
		Long: `gatekeep registers users, logs them in with server-side sessions
stored in Redis, and runs the email password reset flow.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded when present")

	cmd.AddCommand(NewServeCmd(nil))
	cmd.AddCommand(NewMigrateCmd(nil))

	return cmd
}

// loadOptions collects the config sources for a command.
func loadOptions(flags *pflag.FlagSet) config.LoadOptions {
	return config.LoadOptions{
		File:    configFile,
		EnvFile: envFile,
		Flags:   flags,
	}
}
