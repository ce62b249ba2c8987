package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDevicesCmd(opts *globalOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices and their current status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			devices, err := client.Devices(cmd.Context(), all)
			if err != nil {
				return err
			}
			return printer(cmd.OutOrStdout(), opts.output, devices, func(w *tabwriter.Writer) {
				row(w, "SERIAL", "NAME", "GATE", "RELAY", "SOURCE", "OBSERVED", "LAST USER")
				for _, d := range devices {
					user := "-"
					if d.Activity != nil && d.Activity.LastUser != "" {
						user = d.Activity.LastUser
					}
					row(w, d.Serial, d.DisplayName, outputState(d.HasGate, d.Status.Gate),
						outputState(d.HasRelay, d.Status.Relay), orDash(d.Status.Source),
						formatTime(d.Status.ObservedAt), user)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include devices no longer on the account")
	return cmd
}

func newDeviceCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "device SERIAL",
		Short: "Show one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			d, err := client.Device(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printer(cmd.OutOrStdout(), opts.output, d, func(w *tabwriter.Writer) {
				row(w, "Serial:", d.Serial)
				row(w, "Name:", d.DisplayName)
				row(w, "Firmware:", orDash(d.Firmware))
				row(w, "Gate:", outputState(d.HasGate, d.Status.Gate))
				row(w, "Relay:", outputState(d.HasRelay, d.Status.Relay))
				row(w, "Source:", orDash(d.Status.Source))
				row(w, "Observed:", formatTime(d.Status.ObservedAt))
				if d.Activity != nil {
					row(w, "Last action:", fmt.Sprintf("%s by %s", formatTime(d.Activity.LastAction), orDash(d.Activity.LastUser)))
				}
			})
		},
	}
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history SERIAL",
		Short: "Show recorded status changes of a device, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			history, err := client.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printer(cmd.OutOrStdout(), opts.output, history, func(w *tabwriter.Writer) {
				row(w, "OBSERVED", "GATE", "RELAY", "SOURCE")
				for _, s := range history {
					row(w, formatTime(s.ObservedAt), s.Gate, s.Relay, s.Source)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	return cmd
}

func outputState(present bool, state string) string {
	if !present {
		return "-"
	}
	return orDash(state)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
