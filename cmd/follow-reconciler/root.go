package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/follow-reconciler/internal/config"
	"github.com/Sternrassler/follow-reconciler/pkg/logging"
)

type rootOptions struct {
	configPath string
	token      string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var current *app

	rootCmd := &cobra.Command{
		Use:           "follow-reconciler",
		Short:         "Find and fix asymmetric GitHub follow relationships",
		Long:          "follow-reconciler compares who you follow with who follows you on GitHub, lists the accounts that don't follow you back and the followers you don't follow, and follows or unfollows them one by one or in bulk.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			level, _ := logging.ParseLevel(cfg.Log.Level)
			logging.Setup(logging.Config{
				Level:   level,
				Pretty:  cfg.Log.Pretty,
				Output:  cmd.ErrOrStderr(),
				Service: "follow-reconciler",
			})

			current, err = newApp(cmd.Context(), cfg)
			return err
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if current == nil {
				return nil
			}
			return current.Close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ./follow-reconciler.yaml)")
	flags.StringVar(&opts.token, "token", "", "GitHub personal access token (default from GH_TOKEN / GITHUB_TOKEN)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error, disabled")
	flags.BoolVar(&opts.pretty, "pretty", false, "human-readable logs")

	getApp := func() *app { return current }

	rootCmd.AddCommand(
		newSearchCmd(getApp),
		newFollowCmd(getApp),
		newUnfollowCmd(getApp),
		newBulkCmd(getApp, true),
		newBulkCmd(getApp, false),
		newStatsCmd(getApp),
		newServeCmd(getApp),
	)

	return rootCmd
}

// loadConfig reads the config file and environment, then applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if token := strings.TrimSpace(opts.token); token != "" {
		cfg.GitHub.Token = token
	}
	if cmd.Flags().Changed("log-level") {
		if _, err := logging.ParseLevel(opts.logLevel); err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
		cfg.Log.Level = opts.logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Log.Pretty = opts.pretty
	}

	return cfg, nil
}
