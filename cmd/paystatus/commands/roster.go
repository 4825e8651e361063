package commands

import (
	"gymbot-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(rosterCmd)
}

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Lists the members assigned to the logged in staff account.",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			serviceutil.Fatal("failed to initialize", err)
		}
		err = a.gate.EnsureAuthenticated(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to login to clubos", err)
		}
		assignees, err := a.roster.List(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to list assignees", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Id", "Name", "Email", "Phone"})
		for _, assignee := range assignees {
			t.AppendRow(table.Row{assignee.Id, assignee.Name, assignee.Email, assignee.Phone})
		}
		t.AppendFooter(table.Row{"", "", "Total", len(assignees)})
		t.Render()
	},
}
