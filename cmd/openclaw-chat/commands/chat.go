package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw-chat/internal/chat"
	"github.com/openclaw/openclaw-chat/internal/gateway"
	"github.com/openclaw/openclaw-chat/internal/protocol"
)

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <session>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context(), gateway.Listener{})
			if err != nil {
				return err
			}
			defer client.Disconnect()

			msgs, err := client.LoadHistory(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printMessage(cmd, m)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", gateway.DefaultHistoryLimit, "maximum messages to fetch")
	return cmd
}

func printMessage(cmd *cobra.Command, m chat.Message) {
	out := cmd.OutOrStdout()
	if m.TS.IsZero() {
		fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
		return
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", m.TS.Format(time.DateTime), m.Role, m.Content)
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <session> <text>",
		Short: "Send a message and stream the reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sessionKey := args[0]
			events := make(chan protocol.ChatEvent, 256)
			lost := make(chan string, 1)

			client, err := connect(ctx, gateway.Listener{
				OnChat: func(ev protocol.ChatEvent) {
					if ev.SessionKey != sessionKey {
						return
					}
					select {
					case events <- ev:
					case <-ctx.Done():
					}
				},
				OnDisconnect: func(reason string) {
					select {
					case lost <- reason:
					default:
					}
				},
			})
			if err != nil {
				return err
			}
			defer client.Disconnect()

			runID, err := client.SendChat(ctx, sessionKey, args[1])
			if err != nil {
				return err
			}
			return streamRun(ctx, cmd, client, sessionKey, runID, events, lost)
		},
	}
}

// streamRun prints deltas of runID until the run ends. Interrupting aborts
// the run on the gateway.
func streamRun(ctx context.Context, cmd *cobra.Command, client *gateway.Client, sessionKey, runID string, events <-chan protocol.ChatEvent, lost <-chan string) error {
	out := cmd.OutOrStdout()
	for {
		select {
		case ev := <-events:
			if ev.RunID != runID {
				continue
			}
			switch ev.State {
			case protocol.ChatStateDelta:
				fmt.Fprint(out, protocol.ExtractText(ev.Message))
			case protocol.ChatStateFinal:
				fmt.Fprintln(out)
				return nil
			case protocol.ChatStateAborted:
				fmt.Fprintln(out, "\n[aborted]")
				return nil
			case protocol.ChatStateError:
				fmt.Fprintln(out)
				msg := ev.ErrorMessage
				if msg == "" {
					msg = "unknown error"
				}
				return errors.New(msg)
			}

		case reason := <-lost:
			fmt.Fprintln(out)
			return fmt.Errorf("connection lost: %s", reason)

		case <-ctx.Done():
			abortCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.AbortRun(abortCtx, sessionKey); err != nil {
				logger.Warn().Err(err).Msg("abort failed")
			}
			return ctx.Err()
		}
	}
}
