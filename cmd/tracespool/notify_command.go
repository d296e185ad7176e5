package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tracespool/internal/ipc"
	"tracespool/internal/notifications"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification utilities",
	}
	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			socket := ctx.socketPath()
			client, err := ipc.Dial(socket)
			if err != nil {
				// Without a daemon, send straight from the configured topic.
				cfg := ctx.configValue()
				if cfg == nil || cfg.Notifications.NtfyTopic == "" {
					fmt.Fprintln(out, "ntfy topic not configured")
					return nil
				}
				if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
					return fmt.Errorf("send test notification: %w", err)
				}
				fmt.Fprintln(out, "test notification sent")
				return nil
			}
			defer client.Close()

			resp, err := client.TestNotification()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, resp.Message)
			return nil
		},
	})
	return notifyCmd
}
