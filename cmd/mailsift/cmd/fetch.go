package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mailsift/mailsift/internal/api"
	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/retrieve"
	"github.com/spf13/cobra"
)

var fetchJSON bool

var fetchCmd = &cobra.Command{
	Use:   "fetch <id>...",
	Short: "Fetch messages by Gmail id",
	Long: `Fetch messages by Gmail id through the batch endpoint.

Ids are sent in batches of 100. Messages that keep failing after the
retries, or that cannot be parsed, are listed at the end instead of
failing the command.

Examples:
  mailsift fetch 18f0abc123def 18f0abc123df0
  mailsift fetch 18f0abc123def --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *retrieve.Service, _ gmail.API) error {
			return runFetch(cmd.Context(), cmd.OutOrStdout(), svc, args, fetchJSON)
		})
	},
}

func runFetch(ctx context.Context, out io.Writer, svc *retrieve.Service, ids []string, asJSON bool) error {
	res, err := svc.Fetch(ctx, ids)
	if err != nil && res == nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if asJSON {
		resp := api.BatchResponse{
			Messages:    make([]api.MessageDetail, 0, len(res.Messages)),
			Abandoned:   res.Abandoned,
			Unparseable: res.Unparseable,
		}
		for _, m := range res.Messages {
			resp.Messages = append(resp.Messages, api.NewMessageDetail(m))
		}
		if resp.Abandoned == nil {
			resp.Abandoned = []string{}
		}
		if werr := writeJSON(out, resp); werr != nil {
			return werr
		}
	} else {
		if werr := writeMessageTable(out, res.Messages); werr != nil {
			return werr
		}
		writeAbandoned(out, res.Abandoned)
		if len(res.Unparseable) > 0 {
			fmt.Fprintf(out, "Malformed (delivered but unparseable): %s\n", strings.Join(res.Unparseable, ", "))
		}
	}

	if err != nil {
		return fmt.Errorf("fetch interrupted after %d message(s): %w", len(res.Messages), err)
	}
	return nil
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(fetchCmd)
}
