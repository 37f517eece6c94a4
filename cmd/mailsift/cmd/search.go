package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mailsift/mailsift/internal/api"
	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/retrieve"
	"github.com/mailsift/mailsift/internal/search"
	"github.com/spf13/cobra"
)

type searchOptions struct {
	labels     []string
	maxResults int
	normalize  bool
	asJSON     bool
}

var searchOpts searchOptions

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the mailbox with Gmail query syntax",
	Long: `Search the mailbox and fetch the matching messages page by page.

The query is sent to Gmail exactly as written. With --normalize it is
rewritten first: addresses are lowercased, dates become epoch seconds,
relative dates (older_than:, newer_than:) are resolved locally and values
with spaces are quoted. Terms are regrouped by operator, so queries using
OR, AND, braces or parentheses are always sent as written.

Pages of up to 20 messages are fetched until --max messages are collected;
the last page is kept whole.

Examples:
  mailsift search "from:alice@example.com has:attachment"
  mailsift search invoice --label INBOX --max 50
  mailsift search "from:alice OR from:bob"
  mailsift search "after:2024-01-01 from:Alice@Example.com" --normalize --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		return withService(cmd.Context(), func(svc *retrieve.Service, _ gmail.API) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), svc, query, searchOpts)
		})
	},
}

// normalizeQuery renders query through the search parser when asked.
// Boolean queries are returned unchanged since the parser flattens them.
func normalizeQuery(query string, normalize bool) string {
	if !normalize || search.HasBooleanSyntax(query) {
		return query
	}
	return search.Parse(query).String()
}

func runSearch(ctx context.Context, out io.Writer, svc *retrieve.Service, query string, opts searchOptions) error {
	if opts.normalize && search.HasBooleanSyntax(query) {
		logger.Warn("query uses boolean syntax, sending it unchanged", "query", query)
	}
	query = normalizeQuery(query, opts.normalize)
	if strings.TrimSpace(query) == "" && len(opts.labels) == 0 {
		return errors.New("a query or --label is required")
	}
	logger.Debug("search", "query", query, "labels", opts.labels, "max", opts.maxResults)

	res, err := svc.Search(ctx, query, opts.labels, opts.maxResults)
	if err != nil && res == nil {
		return fmt.Errorf("search: %w", err)
	}

	if opts.asJSON {
		resp := api.SearchResponse{
			Query:     query,
			Pages:     res.Pages,
			Count:     len(res.Messages),
			Messages:  make([]api.MessageSummary, 0, len(res.Messages)),
			Abandoned: res.Abandoned,
		}
		for _, m := range res.Messages {
			resp.Messages = append(resp.Messages, api.NewMessageSummary(m))
		}
		if resp.Abandoned == nil {
			resp.Abandoned = []string{}
		}
		if werr := writeJSON(out, resp); werr != nil {
			return werr
		}
	} else if len(res.Messages) == 0 && len(res.Abandoned) == 0 {
		fmt.Fprintln(out, "No messages found.")
	} else {
		if werr := writeMessageTable(out, res.Messages); werr != nil {
			return werr
		}
		writeAbandoned(out, res.Abandoned)
		fmt.Fprintf(out, "\n%d message(s) from %d page(s)\n", len(res.Messages), res.Pages)
	}

	if err != nil {
		return fmt.Errorf("search stopped after %d page(s): %w", res.Pages, err)
	}
	return nil
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchOpts.labels, "label", nil, "restrict to label id (repeatable)")
	searchCmd.Flags().IntVar(&searchOpts.maxResults, "max", retrieve.MaxPageSize, "stop after this many messages")
	searchCmd.Flags().BoolVar(&searchOpts.normalize, "normalize", false, "rewrite dates and addresses before sending")
	searchCmd.Flags().BoolVar(&searchOpts.asJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(searchCmd)
}
