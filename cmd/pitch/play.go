package main

import (
	"os"

	"github.com/aretw0/pitch"
	"github.com/aretw0/pitch/internal/cli"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var playCmd = &cobra.Command{
	Use:   "play [script]",
	Short: "Play the script in the terminal",
	Long: `Plays the script interactively as one identity. Timers run on a virtual
clock: an empty line skips ahead to the next pending wake-up.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args)
		if err != nil {
			return err
		}

		clock := cli.NewVirtualClock()
		app, err := cli.NewApp(cfg, cli.NewLogger(cfg.LogLevel), pitch.WithClock(clock.Now))
		if err != nil {
			return err
		}
		defer app.Close()

		identity, _ := cmd.Flags().GetString("identity")
		fresh, _ := cmd.Flags().GetBool("fresh")
		headless, _ := cmd.Flags().GetBool("headless")
		render, _ := cmd.Flags().GetBool("render")
		if !term.IsTerminal(int(os.Stdin.Fd())) && !cmd.Flags().Changed("headless") {
			headless = true
		}
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			render = false
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		return cli.RunPlay(ctx, app.Engine, clock, cli.PlayOptions{
			Identity: identity,
			Fresh:    fresh,
			Headless: headless,
			Render:   render,
			Input:    cmd.InOrStdin(),
			Output:   cmd.OutOrStdout(),
		})
	},
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().String("identity", "local", "Identity to play as")
	playCmd.Flags().Bool("fresh", false, "Forget the identity's progress before playing")
	playCmd.Flags().Bool("headless", false, "Plain output for pipes and scripts")
	playCmd.Flags().Bool("render", true, "Render story lines as markdown")
}
