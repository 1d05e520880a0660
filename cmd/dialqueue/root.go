package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dialqueue/internal/config"
)

var version = "dev"

// commandContext carries the config flag value and lazily loads the
// configuration for subcommands that need it.
type commandContext struct {
	configFlag *string

	cfg     *config.Config
	cfgPath string
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, resolvedPath, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.cfgPath = resolvedPath
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "dialqueue",
		Short:         "Outbound sales-call queue daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newQueueCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dialqueue version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "dialqueue", version)
			return nil
		},
	}
}
