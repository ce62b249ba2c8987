package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newConnectionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connection",
		Short: "Show the state of the bridge's real-time connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			conn, err := client.Connection(cmd.Context())
			if err != nil {
				return err
			}
			return printer(cmd.OutOrStdout(), opts.output, conn, func(w *tabwriter.Writer) {
				row(w, "Phase:", conn.Phase)
				row(w, "Connection ID:", orDash(conn.ConnectionID))
				row(w, "Retries:", conn.RetryCount)
				if conn.BackoffSeconds > 0 {
					row(w, "Next attempt in:", time.Duration(conn.BackoffSeconds*float64(time.Second)).String())
				}
				if conn.UptimeSeconds > 0 {
					row(w, "Uptime:", time.Duration(conn.UptimeSeconds*float64(time.Second)).Truncate(time.Second).String())
				}
				row(w, "Last connected:", formatTime(conn.LastConnected))
				row(w, "Last error:", orDash(conn.LastError))
				row(w, "Re-auth pending:", conn.PendingReauth)
			})
		},
	}
}

func newReconnectCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect",
		Short: "Drop and re-establish the real-time connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Reconnect(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reconnect requested")
			return nil
		},
	}
}

func newResyncCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resync [SERIAL]",
		Short: "Forget held status and poll again, for one device or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serial := ""
			if len(args) == 1 {
				serial = args[0]
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Resync(cmd.Context(), serial); err != nil {
				return err
			}
			if serial == "" {
				serial = "all devices"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resync requested for %s\n", serial)
			return nil
		},
	}
}
