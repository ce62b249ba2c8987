package cli

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/turtacn/contatto/sdk/go/contatto"
)

func newControlCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "control SERIAL gate|relay",
		Short:     "Trigger the gate or relay output of a device",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"gate", "relay"},
		RunE: func(cmd *cobra.Command, args []string) error {
			serial, hw := args[0], args[1]
			if hw != "gate" && hw != "relay" {
				return fmt.Errorf("hardware must be gate or relay, got %q", hw)
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Control(cmd.Context(), serial, hw); err != nil {
				var apiErr *contatto.APIError
				if errors.Is(err, contatto.ErrRateLimited) && errors.As(err, &apiErr) {
					return fmt.Errorf("too many commands for %s, retry in %s", serial, apiErr.RetryAfter)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s triggered on %s\n", hw, serial)
			return nil
		},
	}
}

func newRelayDurationCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relay-duration SERIAL [MS]",
		Short: "Show or set the relay mode: -1 toggles, 1..30000 pulses for that many ms",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			var rd contatto.RelayDuration
			if len(args) == 2 {
				ms, convErr := strconv.Atoi(args[1])
				if convErr != nil {
					return fmt.Errorf("duration must be an integer number of milliseconds: %w", convErr)
				}
				rd, err = client.SetRelayDuration(cmd.Context(), args[0], ms)
			} else {
				rd, err = client.RelayDuration(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printer(cmd.OutOrStdout(), opts.output, rd, func(w *tabwriter.Writer) {
				row(w, "SERIAL", "MODE", "DURATION MS")
				row(w, rd.Serial, rd.Mode, rd.DurationMS)
			})
		},
	}
}

func newSettingsCmd(opts *globalOptions) *cobra.Command {
	var (
		gateName, relayName    string
		gateShow, relayShow    bool
		favorite, notification bool
	)
	cmd := &cobra.Command{
		Use:   "settings SERIAL",
		Short: "Change output names, visibility and flags of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s contatto.Settings
			flags := cmd.Flags()
			if flags.Changed("gate-name") {
				s.GateName = &gateName
			}
			if flags.Changed("relay-name") {
				s.RelayName = &relayName
			}
			if flags.Changed("gate-show") {
				s.GateShow = &gateShow
			}
			if flags.Changed("relay-show") {
				s.RelayShow = &relayShow
			}
			if flags.Changed("favorite") {
				s.Favorite = &favorite
			}
			if flags.Changed("notification") {
				s.Notification = &notification
			}
			if s == (contatto.Settings{}) {
				return errors.New("nothing to change")
			}

			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.UpdateSettings(cmd.Context(), args[0], s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "settings of %s updated\n", args[0])
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&gateName, "gate-name", "", "label of the gate output")
	flags.StringVar(&relayName, "relay-name", "", "label of the relay output")
	flags.BoolVar(&gateShow, "gate-show", true, "show the gate output")
	flags.BoolVar(&relayShow, "relay-show", true, "show the relay output")
	flags.BoolVar(&favorite, "favorite", false, "mark the device as favorite")
	flags.BoolVar(&notification, "notification", false, "enable vendor notifications")
	return cmd
}
