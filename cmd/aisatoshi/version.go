package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"aisatoshi/internal/config"
)

// Set by -ldflags "-X main.commit=..." at release time.
var commit = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "aisatoshi %s (%s, %s)\n",
			config.DefaultConfig().Version, commit, runtime.Version())
	},
}
