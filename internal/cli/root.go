// Package cli defines the tracesync command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the tracesync CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracesync",
		Short: "Incremental trip synchronization agent",
		Long: `tracesync pulls trip records and manual annotations from a trace
server, deduplicates them against the destination store, merges annotations
into stored trips, and persists per-account watermarks so the next run
resumes incrementally.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewSyncCommand())

	return cmd
}
