package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tracespool/internal/ingest"
	"tracespool/internal/ipc"
	"tracespool/internal/logging"
	"tracespool/internal/queue"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "enqueue <file|->",
		Short: "Enqueue the answered turns of a transcript document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			if !json.Valid(data) {
				return fmt.Errorf("%s is not valid JSON", args[0])
			}

			var result ingest.Result
			err = ctx.withDaemonOrSpool(
				func(client *ipc.Client) error {
					resp, callErr := client.Enqueue(data)
					if resp != nil {
						result = ingest.Result{
							SessionID:  resp.SessionID,
							Accepted:   resp.Accepted,
							Duplicates: resp.Duplicates,
							Unanswered: resp.Unanswered,
							NotStored:  resp.NotStored,
							ItemIDs:    resp.ItemIDs,
						}
					}
					return callErr
				},
				func(mgr *queue.Manager) error {
					var ingestErr error
					result, ingestErr = ingest.NewIngester(mgr, logging.NewNop()).Ingest(cmd.Context(), data)
					return ingestErr
				},
			)
			if result.SessionID != "" {
				if asJSON {
					if jsonErr := writeJSON(cmd, result); jsonErr != nil {
						return jsonErr
					}
				} else {
					printEnqueueResult(cmd.OutOrStdout(), result)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func readDocument(cmd *cobra.Command, arg string) ([]byte, error) {
	if arg == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

func printEnqueueResult(out io.Writer, result ingest.Result) {
	fmt.Fprintf(out, "Session %s: %d accepted, %d duplicate", result.SessionID, result.Accepted, result.Duplicates)
	if result.Unanswered > 0 {
		fmt.Fprintf(out, ", %d unanswered", result.Unanswered)
	}
	if result.NotStored > 0 {
		fmt.Fprintf(out, ", %d not stored", result.NotStored)
	}
	fmt.Fprintln(out)
	for _, id := range result.ItemIDs {
		fmt.Fprintf(out, "  %s\n", id)
	}
}
