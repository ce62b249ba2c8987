package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turtacn/contatto/internal/bootstrap"
	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/infrastructure/monitoring"
	"github.com/turtacn/contatto/pkg/logger"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(opts.configFile)
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := monitoring.NewZapLogger(&cfg.Log)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			loader.WatchLogLevel(log, log.SetLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			log.Info(ctx, "Contatto bridge starting", logger.String("config", loader.ConfigFileUsed()))
			runErr := app.Run(ctx)
			if err := app.Close(context.Background()); err != nil {
				log.Error(context.Background(), "Failed to release resources", err)
			}
			return runErr
		},
	}
}

// newTestConnectionCmd logs in with the configured credentials and lists the
// account's devices, without starting the bridge.
func newTestConnectionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Check the configured credentials against the vendor cloud",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.Log.Level = "error"
			log, err := monitoring.NewZapLogger(&cfg.Log)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}

			ctx := cmd.Context()
			app, err := bootstrap.New(ctx, cfg, log, bootstrap.WithoutHTTP())
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			n, err := app.Bridge.TestConnection(ctx)
			if err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in, %d device(s) on the account\n", n)
			return nil
		},
	}
}
