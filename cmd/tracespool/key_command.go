package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tracespool/internal/transcript"
)

func newKeyCommand() *cobra.Command {
	var session, unit, at string

	cmd := &cobra.Command{
		Use:         "key",
		Short:       "Print the idempotency key for a session turn",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(session) == "" || strings.TrimSpace(unit) == "" {
				return fmt.Errorf("--session and --unit are required")
			}
			ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(at))
			if err != nil {
				return fmt.Errorf("--at must be an RFC 3339 timestamp: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, transcript.DeriveKey(session, unit, ts))
			fmt.Fprintf(out, "session token: %s\n", transcript.DeriveUUID(session))
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session id")
	cmd.Flags().StringVar(&unit, "unit", "", "Unit id of the turn")
	cmd.Flags().StringVar(&at, "at", "", "Request timestamp (RFC 3339)")
	return cmd
}
