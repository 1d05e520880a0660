package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"dialqueue/internal/queue"
)

func newQueueCommand(cmdCtx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the call queue",
	}
	queueCmd.AddCommand(newQueueListCommand(cmdCtx))
	queueCmd.AddCommand(newQueueClearCommand(cmdCtx))
	queueCmd.AddCommand(newQueueHealthCommand(cmdCtx))
	return queueCmd
}

func openStore(cmdCtx *commandContext) (*queue.Store, error) {
	cfg, err := cmdCtx.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	return store, nil
}

func newQueueListCommand(cmdCtx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending and in-flight calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmdCtx)
			if err != nil {
				return err
			}
			defer store.Close()

			var statuses []queue.Status
			if statusFilter != "" {
				status, ok := queue.ParseStatus(statusFilter)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
				statuses = append(statuses, status)
			}

			entries, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return fmt.Errorf("list queue: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "Queue is empty.")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				claimed := ""
				if entry.ClaimedAt != nil {
					claimed = entry.ClaimedAt.Local().Format(time.RFC3339)
				}
				rows = append(rows, []string{
					strconv.FormatInt(entry.ID, 10),
					entry.CustomerID,
					entry.Name,
					entry.PhoneNumber,
					string(entry.Status),
					entry.CreatedAt.Local().Format(time.RFC3339),
					claimed,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Customer", "Name", "Phone", "Status", "Created", "Claimed"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (queued or processing)")
	return cmd
}

func newQueueClearCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the call queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmdCtx)
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear queue: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d queue entries.\n", deleted)
			return nil
		},
	}
}

func newQueueHealthCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmdCtx)
			if err != nil {
				return err
			}
			defer store.Close()

			health, err := store.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("queue health: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total:      %d\n", health.Total)
			fmt.Fprintf(out, "Queued:     %d\n", health.Queued)
			fmt.Fprintf(out, "Processing: %d\n", health.Processing)
			return nil
		},
	}
}
