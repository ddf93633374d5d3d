package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/aretw0/pitch/pkg/domain"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <identity>",
	Short: "Show the visits and messages of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, nil)
		if err != nil {
			return err
		}
		defer app.Close()

		h, err := app.Engine.History(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("error loading history of '%s': %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := json.MarshalIndent(h, "", "  ")
			if err != nil {
				return fmt.Errorf("error marshaling history: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tNODE\tNEXT\tEXECUTED\tSLEEP UNTIL")
		for _, v := range h.Visits {
			until := "-"
			if v.SleepUntil != nil {
				until = v.SleepUntil.Format("2006-01-02 15:04:05Z07:00")
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", v.Seq, v.CurrentNode, v.NextNode, v.TransitionExecuted, until)
		}
		w.Flush()

		fmt.Fprintln(out)
		for _, m := range h.Messages {
			arrow := "<"
			if m.Direction == domain.DirectionInbound {
				arrow = ">"
			}
			fmt.Fprintf(out, "%s %s %s\n", m.CreatedAt.Format("15:04:05"), arrow, m.Body)
		}
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List known users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, nil)
		if err != nil {
			return err
		}
		defer app.Close()

		users, err := app.Engine.Users(cmd.Context())
		if err != nil {
			return fmt.Errorf("error listing users: %w", err)
		}
		if len(users) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No users found.")
			return nil
		}
		for _, u := range users {
			fmt.Fprintf(cmd.OutOrStdout(), "- %s (since %s)\n", u.Identity, u.CreatedAt.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(usersCmd)
	historyCmd.Flags().Bool("json", false, "Print the raw history as JSON")
}
