package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the PlugHost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plughostd",
		Short: "PlugHost - a host for native plugins",
		Long: `PlugHost loads plugin libraries that export a versioned descriptor,
runs their instances and tears them down in a fixed order.
Plugins run either in-process as shared objects or as child processes.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersionInfo(cmd)
		},
	}
}
