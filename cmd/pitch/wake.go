package main

import (
	"fmt"

	"github.com/aretw0/pitch/internal/sms"
	"github.com/aretw0/pitch/internal/wake"
	"github.com/spf13/cobra"
)

var wakeCmd = &cobra.Command{
	Use:   "wake [script]",
	Short: "Run one wake sweep and exit",
	Long: `Drives every user whose timer expired once and prints what would be sent.
Useful from an external scheduler instead of 'serve'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, args)
		if err != nil {
			return err
		}
		defer app.Close()

		sweeper := wake.New(app.Engine, sms.LogSender{Logger: app.Logger},
			wake.WithLogger(app.Logger),
			wake.WithMetrics(app.Metrics),
			wake.WithBatch(app.Config.WakeBatch),
		)
		n, err := sweeper.Sweep(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "Woke %d users\n", n)
		return err
	},
}

func init() {
	rootCmd.AddCommand(wakeCmd)
}
