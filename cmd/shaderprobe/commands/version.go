package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build metadata, set with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "unknown"
)

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "shaderprobe version %s (commit: %s)\n", Version, Commit)
		},
	}
}
