package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/contatto/sdk/go/contatto"
)

const defaultServer = "http://localhost:8080"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	server     string
	output     string
}

// client builds an API client for the bridge named by --server.
func (o *globalOptions) client() (*contatto.Client, error) {
	return contatto.NewClient(o.server)
}

// NewRootCommand builds the `contatto` command tree.
// NewRootCommand 构建 `contatto` 命令树。
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "contatto",
		Short: "Run and operate the Contatto gate/relay bridge.",
		Long: `contatto runs the bridge between the vendor cloud and local consumers,
and talks to a running bridge to list devices, trigger outputs and follow
status changes as they happen.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case outputTable, outputJSON, outputYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q", opts.output)
			}
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	server := os.Getenv("CONTATTO_SERVER")
	if server == "" {
		server = defaultServer
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", os.Getenv("CONTATTO_CONFIG"), "bridge configuration file")
	flags.StringVarP(&opts.server, "server", "s", server, "URL of a running bridge")
	flags.StringVarP(&opts.output, "output", "o", outputTable, "output format: table, json or yaml")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newTestConnectionCmd(opts),
		newDevicesCmd(opts),
		newDeviceCmd(opts),
		newHistoryCmd(opts),
		newControlCmd(opts),
		newRelayDurationCmd(opts),
		newSettingsCmd(opts),
		newConnectionCmd(opts),
		newReconnectCmd(opts),
		newResyncCmd(opts),
		newWatchCmd(opts),
	)
	return rootCmd
}

// Execute is the main entry point for the CLI application.
// It parses the command-line arguments and runs the selected command.
// If an error occurs, it prints the error and exits.
// Execute 是 CLI 应用程序的主入口点。
func Execute() {
	if err := NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
