package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tracespool/internal/ipc"
)

func newFlushCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Ask the daemon to deliver eligible items now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Flush()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Result.At == nil {
					fmt.Fprintln(out, "No flush has completed yet")
					return nil
				}
				fmt.Fprintf(out, "Flush: %s\n", describeFlush(resp.Result))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
