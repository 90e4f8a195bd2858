package main

import (
	"github.com/spf13/cobra"
	"szuro.net/plughost/internal/config"
)

func printVersionInfo(cmd *cobra.Command) {
	cmd.Printf("PlugHost %s\n", config.Version)
	cmd.Printf("Git commit: %s\n", config.Commit)
	cmd.Printf("Compilation time: %s\n", config.BuildDate)
}
