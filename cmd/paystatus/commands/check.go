package commands

import (
	"gymbot-backend/lib/scrapers/clubos/members"
	"gymbot-backend/lib/serviceutil"

	"github.com/spf13/cobra"
)

var (
	checkRef  members.Ref
	checkSave bool
)

func init() {
	checkCmd.Flags().StringVar(&checkRef.Id, "id", "", "ClubOS member id, skips the member search.")
	checkCmd.Flags().StringVar(&checkRef.Name, "name", "", "Member name.")
	checkCmd.Flags().StringVar(&checkRef.Email, "email", "", "Member email.")
	checkCmd.Flags().StringVar(&checkRef.Phone, "phone", "", "Member phone number.")
	checkCmd.Flags().BoolVar(&checkSave, "save", false, "Write the result to the configured store.")
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check [--id <id>] [--name <name>] [--email <email>] [--phone <phone>]",
	Short: "Checks the payment status of a single member.",
	Run: func(cmd *cobra.Command, args []string) {
		if checkRef.IsZero() {
			cmd.PrintErrln("one of --id, --name, --email or --phone is required")
			return
		}

		a, err := newApp()
		if err != nil {
			serviceutil.Fatal("failed to initialize", err)
		}

		// a batch of one keeps the resolved member id for the table and the store
		results, err := a.service.GetPaymentStatuses(cmd.Context(), []members.Ref{checkRef}, 1)
		if err != nil {
			serviceutil.Fatal("cancelled", err)
		}
		renderResults(results)

		if checkSave {
			err = a.save(cmd.Context(), results)
			if err != nil {
				serviceutil.Fatal("failed to save result", err)
			}
		}
		if results[0].Err != nil {
			serviceutil.Fatal("failed to get payment status", results[0].Err)
		}
	},
}
