package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mailsift/mailsift/internal/api"
	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/retrieve"
	"github.com/spf13/cobra"
)

var (
	historyBefore  string
	historyExclude string
	historyJSON    bool
)

var historyCmd = &cobra.Command{
	Use:   "history <sender>",
	Short: "Check whether a sender was corresponded with before",
	Long: `Check whether the mailbox holds any message from or to a sender before
a point in time.

Senders at public mail providers (gmail.com, outlook.com, ...) are matched
by full address; everyone else is matched by domain, so any colleague at
the same company counts. Configure the provider list with
[retrieval] public_domains.

Examples:
  mailsift history alice@acme.com
  mailsift history "Bob <bob@gmail.com>" --before 2024-06-01
  mailsift history alice@acme.com --before 1717200000 --exclude 18f0abc123def`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asOf := time.Now()
		if historyBefore != "" {
			t, err := api.ParseTime(historyBefore)
			if err != nil {
				return fmt.Errorf("--before: %w", err)
			}
			asOf = t
		}
		return withService(cmd.Context(), func(svc *retrieve.Service, _ gmail.API) error {
			return runHistory(cmd.Context(), cmd.OutOrStdout(), svc, args[0], asOf, historyExclude, historyJSON)
		})
	},
}

func runHistory(ctx context.Context, out io.Writer, svc *retrieve.Service, sender string, asOf time.Time, exclude string, asJSON bool) error {
	term, err := svc.SearchTerm(sender)
	if err != nil {
		return err
	}
	found, err := svc.HasPriorCommunication(ctx, sender, asOf, exclude)
	if err != nil {
		return fmt.Errorf("sender history: %w", err)
	}

	if asJSON {
		return writeJSON(out, api.HistoryResponse{
			Sender:             sender,
			Term:               term,
			Before:             asOf.UTC().Format(time.RFC3339),
			Exclude:            exclude,
			PriorCommunication: found,
		})
	}

	answer := "no"
	if found {
		answer = "yes"
	}
	fmt.Fprintf(out, "Matched on:          %s\n", term)
	fmt.Fprintf(out, "Before:              %s\n", formatDate(asOf, time.RFC1123))
	fmt.Fprintf(out, "Prior communication: %s\n", answer)
	return nil
}

func init() {
	historyCmd.Flags().StringVar(&historyBefore, "before", "", "cutoff as RFC 3339, YYYY-MM-DD or Unix seconds (default: now)")
	historyCmd.Flags().StringVar(&historyExclude, "exclude", "", "Gmail id to ignore, usually the message being evaluated")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(historyCmd)
}
