package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gymbot-backend/internal/billing"
	"gymbot-backend/lib/scrapers/clubos/members"
	"gymbot-backend/lib/serviceutil"

	"github.com/spf13/cobra"
	"github.com/titanous/json5"
)

type memberInput struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// readMembers reads a json5 list of members, ex.
//
//	[{ name: "Jane Doe", email: "jane@example.com" }, { id: "1234567" }]
func readMembers(path string) ([]members.Ref, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var inputs []memberInput
	err = json5.Unmarshal(contents, &inputs)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	refs := make([]members.Ref, len(inputs))
	for i, in := range inputs {
		refs[i] = members.Ref{Id: in.Id, Name: in.Name, Email: in.Email, Phone: in.Phone}
	}
	return refs, nil
}

var batchWorkers int

func init() {
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 0, "Members processed at once, defaults to the workers config value.")
	rootCmd.AddCommand(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch <members.json5>",
	Short: "Checks the payment status of every member in a file and writes the results to the configured store.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		refs, err := readMembers(args[0])
		if err != nil {
			serviceutil.Fatal("failed to read members", err)
		}

		a, err := newApp()
		if err != nil {
			serviceutil.Fatal("failed to initialize", err)
		}
		workers := batchWorkers
		if workers <= 0 {
			workers = a.cfg.Workers
		}

		t1 := time.Now()
		results, err := a.service.GetPaymentStatuses(cmd.Context(), refs, workers)
		if err != nil {
			serviceutil.Fatal("cancelled", err)
		}
		t2 := time.Now()

		renderResults(results)

		pastDue := 0
		for _, r := range results {
			if r.Snapshot.Status == billing.PastDue {
				pastDue++
			}
		}
		slog.Info("batch done", "members", len(results), "past_due", pastDue, "seconds", t2.Sub(t1).Seconds())

		err = a.save(cmd.Context(), results)
		if err != nil {
			serviceutil.Fatal("failed to save results", err)
		}
	},
}
