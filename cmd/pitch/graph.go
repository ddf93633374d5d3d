package main

import (
	"fmt"

	"github.com/aretw0/pitch/internal/presentation/graph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph [script]",
	Short: "Export the dialogue graph visualization",
	Long: `Compiles the script and outputs a Mermaid diagram (graph TD) of its nodes.
With --identity, the nodes the user visited and the one they wait at are highlighted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, args)
		if err != nil {
			return err
		}
		defer app.Close()

		var overlay *graph.GraphOverlay
		if identity, _ := cmd.Flags().GetString("identity"); identity != "" {
			h, err := app.Engine.History(cmd.Context(), identity)
			if err != nil {
				return fmt.Errorf("failed to load history of %s: %w", identity, err)
			}
			overlay = graph.OverlayFromHistory(h)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(app.Engine.Graph(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("identity", "", "Highlight the path of this user")
}
