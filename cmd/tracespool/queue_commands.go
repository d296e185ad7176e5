package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"tracespool/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the spool",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))
	queueCmd.AddCommand(newQueueCleanupCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List spooled items, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(q queueAPI) error {
				items, err := q.List(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Session", "Status", "Created", "Retries", "Size", "Error"},
					buildQueueListRows(items),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func buildQueueListRows(items []ipc.QueueItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		session := item.SessionName
		if session == "" {
			session = item.SessionID
		}
		rows = append(rows, []string{
			item.ID,
			truncate(session, 32),
			titleCaser.String(item.Status),
			formatTime(item.CreatedAt),
			strconv.Itoa(item.RetryCount),
			formatBytes(int64(item.RequestBytes + item.ResponseBytes)),
			truncate(item.Error, 48),
		})
	}
	return rows
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one item including its payloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(q queueAPI) error {
				item, err := q.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("item %s not found", args[0])
				}
				if asJSON {
					return writeJSON(cmd, item)
				}
				printQueueItem(cmd.OutOrStdout(), *item)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printQueueItem(out io.Writer, item ipc.QueueItem) {
	fmt.Fprintf(out, "ID:         %s\n", item.ID)
	fmt.Fprintf(out, "Session:    %s\n", item.SessionID)
	if item.SessionName != "" {
		fmt.Fprintf(out, "Name:       %s\n", item.SessionName)
	}
	if item.SessionPath != "" {
		fmt.Fprintf(out, "Path:       %s\n", item.SessionPath)
	}
	fmt.Fprintf(out, "Status:     %s\n", titleCaser.String(item.Status))
	fmt.Fprintf(out, "Created:    %s\n", formatTime(item.CreatedAt))
	if item.LastAttemptAt != nil {
		fmt.Fprintf(out, "Attempted:  %s\n", formatTime(*item.LastAttemptAt))
	}
	fmt.Fprintf(out, "Retries:    %d\n", item.RetryCount)
	if item.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", item.Error)
	}
	fmt.Fprintln(out, "Request:")
	fmt.Fprintln(out, indentJSON(item.Request))
	fmt.Fprintln(out, "Response:")
	fmt.Fprintln(out, indentJSON(item.Response))
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "  (none)"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "  ", "  "); err != nil {
		return "  " + string(raw)
	}
	return "  " + buf.String()
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show spool totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(q queueAPI) error {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				rows := [][]string{
					{"Pending", strconv.Itoa(stats.Pending)},
					{"Processing", strconv.Itoa(stats.Processing)},
					{"Failed", strconv.Itoa(stats.Failed)},
					{"Dead", strconv.Itoa(stats.Dead)},
					{"Total", strconv.Itoa(stats.Total)},
					{"Bytes", formatBytes(stats.TotalBytes)},
					{"Disk free", formatBytes(int64(stats.DiskFreeBytes))},
				}
				if stats.OldestCreatedAt != nil {
					rows = append(rows, []string{"Oldest", formatTime(*stats.OldestCreatedAt)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete items in the given statuses",
		Long: "Delete items in the given statuses and forget their idempotency keys so the\n" +
			"same exports can be enqueued again. Processing items cannot be purged.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(statuses) == 0 {
				return errors.New("specify at least one --status (for example --status dead)")
			}
			return ctx.withQueue(func(q queueAPI) error {
				removed, err := q.Purge(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d items\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Status to purge (repeatable)")
	return cmd
}

func newQueueCleanupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Reclaim expired items and enforce the spool size limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(q queueAPI) error {
				removed, err := q.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d items\n", removed)
				return nil
			})
		},
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
