package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/turtacn/contatto/sdk/go/contatto"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		serial string
		once   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream status changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			emit := func(c contatto.StatusChange) error {
				return printChange(out, opts.output, c)
			}
			if once {
				return client.Watch(cmd.Context(), serial, emit)
			}
			return watchForever(cmd.Context(), client, serial, emit, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&serial, "serial", "", "only show changes of this device")
	cmd.Flags().BoolVar(&once, "once", false, "exit when the stream ends instead of reconnecting")
	return cmd
}

// watchForever reopens the event stream whenever it ends, backing off on
// consecutive failures. Client errors other than transport failures stop it.
func watchForever(ctx context.Context, client *contatto.Client, serial string, fn func(contatto.StatusChange) error, errOut io.Writer) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	op := func() error {
		started := time.Now()
		err := client.Watch(ctx, serial, fn)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var apiErr *contatto.APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return backoff.Permanent(err)
		}
		if time.Since(started) > policy.MaxInterval {
			policy.Reset()
		}
		if err == nil {
			err = errors.New("event stream closed")
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		fmt.Fprintf(errOut, "watch: %v, retrying in %s\n", err, wait.Truncate(time.Millisecond))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printChange(out io.Writer, format string, c contatto.StatusChange) error {
	switch format {
	case outputJSON, outputYAML:
		// One object per line so the stream stays parseable.
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(b))
		return err
	default:
		cur := c.Current
		_, err := fmt.Fprintf(out, "%s  %s  gate=%s relay=%s (%s)\n",
			formatTime(cur.ObservedAt), cur.Serial, orDash(cur.Gate), orDash(cur.Relay), cur.Source)
		return err
	}
}
