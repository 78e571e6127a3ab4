// Command clusterkitctl is the operator CLI for a running ClusterManager:
// status, eval, and respawn against its control API Unix socket (spec.md
// §10, adapted from the teacher's cmd/ployz CLI tree).
package main

import (
	"os"

	"clusterkit/internal/buildinfo"
	"clusterkit/internal/controlapi"
	ui "clusterkit/internal/clusterkitui"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var socketPath string
	var noColor bool

	cmd := &cobra.Command{
		Use:     "clusterkitctl",
		Short:   "Operator CLI for a running clusterkit-manager",
		Version: buildinfo.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ui.ConfigureOutput(noColor)
		},
	}

	cmd.PersistentFlags().StringVar(&socketPath, "socket", controlapi.DefaultSocketPath(), "Control API Unix socket path")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable styled output")
	cmd.AddCommand(statusCmd(&socketPath), evalCmd(&socketPath), respawnCmd(&socketPath))
	return cmd
}
