package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"dialqueue/internal/daemon"
	"dialqueue/internal/logging"
)

func newServeCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the call queue daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			logger, err := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				OutputPaths: []string{
					"stdout",
					filepath.Join(cfg.Paths.LogDir, "dialqueue.log"),
				},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			if err := d.Start(ctx); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			<-ctx.Done()
			logger.Info("dialqueue shutting down")
			d.Stop()
			return nil
		},
	}
}
