package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags, consumed by subcommands in this package.
	socketPath string
	playerID   int
)

// NewRootCommand builds the opctl root command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "opctl",
		Short: "opctl talks JSON-RPC to the operation daemon over its Unix socket",
		Long: `opctl is a thin client for the operation daemon.

Examples:
  opctl container list
  opctl container get <container-id>
  opctl container logs <container-id> --limit 50
  opctl container create --player-id 1 --type NavigateShip --config '{"ship_symbol":"AGENT-1","destination":"X1-GZ7-B1"}'
  opctl container stop <container-id>
  opctl container rm <container-id>
  opctl health`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", getDefaultSocketPath(),
		"path to the daemon's Unix socket")
	rootCmd.PersistentFlags().IntVar(&playerID, "player-id", 0, "player id scoping the request")

	rootCmd.AddCommand(NewContainerCommand())
	rootCmd.AddCommand(NewHealthCommand())

	return rootCmd
}

func getDefaultSocketPath() string {
	if path := os.Getenv("OPCTL_SOCKET"); path != "" {
		return path
	}
	return "/tmp/spacetraders-daemon.sock"
}

// Execute runs the root command, exiting non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
