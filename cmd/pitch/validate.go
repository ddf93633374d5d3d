package main

import (
	"fmt"

	"github.com/aretw0/pitch"
	"github.com/aretw0/pitch/internal/config"
	"github.com/aretw0/pitch/internal/validator"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [script]",
	Short: "Compile the script and report errors",
	Long:  `Parses and compiles the script, checking every goto target and keyword, and lists the compiled nodes.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script, _ := cmd.Flags().GetString("script")
		if script == "" && len(args) > 0 {
			script = args[0]
		}
		if script == "" {
			script = config.Load().Script
		}
		if script == "" {
			return fmt.Errorf("script path is required")
		}

		eng, err := pitch.New(script)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		out := cmd.OutOrStdout()
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			for _, n := range eng.Graph().Nodes() {
				fmt.Fprintf(out, "%-8s %s -> %v\n", n.Kind(), n.Name(), n.Edges())
			}
		}
		if report := validator.ValidateGraph(eng.Graph()); !report.OK() {
			fmt.Fprintf(out, "⚠️  %s\n", report)
		}
		fmt.Fprintf(out, "Script is valid! ✅ %d locations, %d nodes, start at %s\n",
			len(eng.Script().Locations), eng.Graph().Len(), eng.Graph().StartName())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolP("verbose", "v", false, "List compiled nodes")
}
