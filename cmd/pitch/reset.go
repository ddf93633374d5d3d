package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <identity>...",
	Short: "Forget one or more users",
	Long:  `Deletes the users with their visits and messages. Their next message starts the script over.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, nil)
		if err != nil {
			return err
		}
		defer app.Close()

		failed := 0
		for _, identity := range args {
			if err := app.Engine.Reset(cmd.Context(), identity); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error removing '%s': %v\n", identity, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed user '%s'\n", identity)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d users could not be removed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
