package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/pitch"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of pitch",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pitch version %s\n", strings.TrimSpace(pitch.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
