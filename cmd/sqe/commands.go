// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/pkg/logging"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/config"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/server"
)

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package globals.
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "sqe",
		Short: "Sign-interpretation stream service for manuscript editions",
		Long: `sqe serves the editions API: sign interpretations linked into a
reading-order graph, their attributes, regions, fragments and lines,
with realtime change notification per edition.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (.yaml, .yml or .toml); SQE_* env vars override it")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the editions HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	pathsCmd := &cobra.Command{
		Use:   "paths <edges-file>",
		Short: "Print the roots and every reading path of an edge list",
		Long: `Reads an edge list and prints its roots followed by every path
from each root (or from --from) to a sign without successors.

The file holds either a JSON array of [from, to] pairs or whitespace
separated "from to" pairs, one or more per line. Lines starting with #
are comments. Use - to read standard input.`,
		Args: cobra.ExactArgs(1),
	}
	var (
		from    uint64
		asJSON  bool
		nodeIDs []uint64
	)
	pathsCmd.Flags().Uint64Var(&from, "from", 0, "start sign (default: every root)")
	pathsCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	pathsCmd.Flags().Uint64SliceVar(&nodeIDs, "node", nil, "extra isolated sign ids to include")
	pathsCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runPaths(cmd, args[0], pathsOptions{from: from, json: asJSON, nodes: nodeIDs})
	}

	var minVersion string
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current := "v" + editions.ServiceVersion
			if minVersion != "" {
				if err := checkVersion(current, minVersion); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sqe %s\n", editions.ServiceVersion)
			return nil
		},
	}
	versionCmd.Flags().StringVar(&minVersion, "require", "", "fail unless the version is at least this semver (e.g. v0.3.0)")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration (default: sqe.yaml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "sqe.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration given with --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (backend %s, port %d)\n",
				cfg.Storage.Backend, cfg.Server.Port)
			return nil
		},
	})

	rootCmd.AddCommand(serveCmd, pathsCmd, versionCmd, configCmd)
	return rootCmd
}

// checkVersion fails when current is older than required.
func checkVersion(current, required string) error {
	if !semver.IsValid(required) {
		return fmt.Errorf("invalid version %q (want semver such as v0.3.0)", required)
	}
	if semver.Compare(current, required) < 0 {
		return fmt.Errorf("version %s is older than required %s", current, semver.Canonical(required))
	}
	return nil
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: cfg.Telemetry.ServiceName,
		Format:  logging.Format(cfg.Logging.Format),
		LogDir:  cfg.Logging.Dir,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error("Failed to close the server cleanly", "error", err)
		}
	}()
	return srv.Run(ctx, configPath)
}
