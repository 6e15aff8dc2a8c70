package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	cmd := command{flags: globalFlags}

	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(cmd),
		createStopCommand(cmd),
		createRestartCommand(cmd),
		createStatusCommand(cmd),
		createStatsCommand(cmd),
		createResourcesCommand(cmd),
		createCleanupCommand(cmd),
		createLogsCommand(cmd),
		createConfigCommand(cmd),
		createSetupCommand(cmd),
		createInstallCommand(cmd),
		createNodeVersionCommand(cmd),
		createHistoryCommand(cmd),
		createClearDataCommand(cmd),
		createWorkerCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "botkeeper",
		Short: "Supervisor for a local Discord bot worker",
		Long: `botkeeper runs one Discord bot worker (node index.js), keeps its
configuration in sync and relays commands to the bot's control API.

Examples:
  botkeeper serve                   # Start the daemon
  botkeeper config set --token=...  # Save the bot token
  botkeeper start                   # Start the bot through the daemon
  botkeeper logs --follow           # Stream the bot log`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default from [server] settings)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 0, "timeout for quick daemon calls (default 10s)")
	return root
}
