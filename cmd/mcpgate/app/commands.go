// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the mcpgate command-line application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/mcpgate/pkg/config"
	mcperrors "github.com/stacklok/mcpgate/pkg/errors"
	"github.com/stacklok/mcpgate/pkg/logger"
)

// NewRootCmd creates a new root command for the mcpgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "mcpgate",
		DisableAutoGenTag: true,
		Short:             "OAuth facade and scope-gated MCP tool server",
		Long: `mcpgate fronts an external identity provider (Keycloak or Auth0) for MCP clients.

It serves OAuth 2.0 and OpenID Connect discovery documents that point at the
provider, answers dynamic client registration with the pre-provisioned client,
verifies bearer tokens against the provider's JWKS and exposes calculator and
note tools gated by OAuth scopes.

Configuration is read from the environment, an optional YAML file (--config)
and flags, in increasing order of precedence.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			v := viper.GetViper()
			config.SetDefaults(v)
			// the file may set debug or unstructured_logs, so it is read first
			if err := readConfigFile(); err != nil {
				logger.Initialize(config.LoadLogging(v))
				return err
			}
			logger.Initialize(config.LoadLogging(v))
			if path := viper.GetString("config"); path != "" {
				logger.Debugf("Loaded configuration file %s", path)
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag(config.KeyDebug, rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDiscoveryCmd())
	rootCmd.AddCommand(newDebugTokenCmd())
	rootCmd.AddCommand(newFetchTokenCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// readConfigFile merges the --config file into viper. Keys in the file use
// the lower-case variable names, e.g. keycloak_realm or server_port.
func readConfigFile() error {
	path := viper.GetString("config")
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return mcperrors.NewConfigurationError(fmt.Sprintf("failed to read config file %s", path), err)
	}
	return nil
}

// loadConfig builds the validated startup configuration.
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	config.SetDefaults(v)
	cfg, err := config.Load(v)
	if err != nil {
		return nil, mcperrors.NewConfigurationError("invalid configuration", err)
	}
	return cfg, nil
}

// bindFlag binds a command flag to a viper key, logging instead of failing.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		logger.Errorf("Error binding %s flag: %v", flag, err)
	}
}
