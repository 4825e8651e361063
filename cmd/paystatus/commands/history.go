package commands

import (
	"time"

	"gymbot-backend/lib/paystore"
	"gymbot-backend/lib/paystore/db"
	"gymbot-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [member key]",
	Short: "Shows the stored statuses of a member, or the latest status of every member when no key is given.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := readConfig(configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if !cfg.Store.Enabled() {
			cmd.PrintErrln("no store configured")
			return
		}
		database, err := cfg.Store.OpenDB(cmd.Context(), db.Schema)
		if err != nil {
			serviceutil.Fatal("failed to open store", err)
		}
		defer database.Close()
		store := paystore.NewStore(database)

		var entries []paystore.Entry
		if len(args) == 1 {
			entries, err = store.History(cmd.Context(), args[0])
		} else {
			entries, err = store.Latest(cmd.Context())
		}
		if err != nil {
			serviceutil.Fatal("failed to read store", err)
		}

		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			loc = time.Local
		}

		t := newTable()
		t.AppendHeader(table.Row{"Member", "Name", "Time", "Status", "Owed", "Source", "Error"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.MemberKey,
				e.MemberName,
				e.Time.In(loc).Format(time.DateTime),
				statusColor(e.Snapshot.Status).Sprint(e.Snapshot.Status.String()),
				e.Snapshot.AmountOwed.StringFixed(2),
				e.Snapshot.Source,
				e.Error,
			})
		}
		t.Render()
	},
}
