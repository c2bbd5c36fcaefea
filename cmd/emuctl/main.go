package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createDownloadCommand(c),
		createEmulatorCommand(c),
		createNATSCommand(c),
		createFederationCommand(c),
		createStatusCommand(c),
		createHistoryCommand(c),
		createActionCommand(c),
		createServeCommand(c),
	)
	return root
}

// createRootCommand creates the root command with its persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "emuctl",
		Short: "Stage, start, stop and inspect emulator fleet processes",
		Long: `emuctl downloads the emulator, nats-server and federation broker binaries,
starts them detached, waits for them to come up and stops them with
escalation from a graceful signal to SIGKILL.

Examples:
  emuctl download --url=https://example.net/choria-emulator --kind=emulator
  emuctl emulator start --instances=10 --monitor=8080
  emuctl status
  emuctl serve                                  # read-only status server
  emuctl status --api-url=http://host:9281/api  # remote status`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.WorkDir, "work-dir", "", "override the work dir")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	return root
}
