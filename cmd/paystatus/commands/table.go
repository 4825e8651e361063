package commands

import (
	"os"
	"strings"

	"gymbot-backend/internal/billing"
	"gymbot-backend/internal/payments"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func statusColor(status billing.Status) text.Colors {
	switch status {
	case billing.PastDue:
		return text.Colors{text.FgRed}
	case billing.Current:
		return text.Colors{text.FgGreen}
	}
	return text.Colors{text.FgYellow}
}

func renderResults(results []payments.Result) {
	t := newTable()
	t.AppendHeader(table.Row{"Member", "Id", "Status", "Owed", "Source", "Agreements", "Error"})
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.AppendRow(table.Row{
			r.Ref.String(),
			r.MemberId,
			statusColor(r.Snapshot.Status).Sprint(r.Snapshot.Status.String()),
			r.Snapshot.AmountOwed.StringFixed(2),
			r.Snapshot.Source,
			strings.Join(r.Snapshot.SourceAgreementIds, ", "),
			errText,
		})
	}
	t.Render()
}
