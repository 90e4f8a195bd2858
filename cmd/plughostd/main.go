package main

import (
	"fmt"
	"os"

	"szuro.net/plughost/internal/config"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", config.Version, config.Commit, config.BuildDate)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
