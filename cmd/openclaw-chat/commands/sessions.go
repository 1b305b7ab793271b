package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw-chat/internal/gateway"
)

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List gateway sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), gateway.Listener{})
			if err != nil {
				return err
			}
			defer client.Disconnect()

			list, err := client.RefreshSessions(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tKIND\tMODEL\tUPDATED")
			for _, s := range list {
				updated := "-"
				if s.UpdatedAt > 0 {
					updated = time.UnixMilli(s.UpdatedAt).Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Key, s.Kind, s.Model, updated)
			}
			return w.Flush()
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session>",
		Short: "Clear a session's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), gateway.Listener{})
			if err != nil {
				return err
			}
			defer client.Disconnect()

			if err := client.ResetSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset\n", args[0])
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete a session and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), gateway.Listener{})
			if err != nil {
				return err
			}
			defer client.Disconnect()

			if err := client.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted\n", args[0])
			return nil
		},
	}
}
