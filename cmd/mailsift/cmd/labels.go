package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/retrieve"
	"github.com/spf13/cobra"
)

var labelsJSON bool

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List mailbox labels",
	Long: `List the labels of the mailbox with their ids. Use the ids with
'mailsift search --label'.

Examples:
  mailsift labels
  mailsift labels --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(_ *retrieve.Service, api gmail.API) error {
			return runLabels(cmd.Context(), cmd.OutOrStdout(), api, labelsJSON)
		})
	},
}

type labelJSON struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	MessagesTotal  int64  `json:"messages_total"`
	MessagesUnread int64  `json:"messages_unread"`
}

func runLabels(ctx context.Context, out io.Writer, reader gmail.LabelReader, asJSON bool) error {
	labels, err := reader.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}

	// System labels first, then by name.
	sort.SliceStable(labels, func(i, j int) bool {
		if labels[i].Type != labels[j].Type {
			return labels[i].Type == "system"
		}
		return labels[i].Name < labels[j].Name
	})

	if asJSON {
		rows := make([]labelJSON, len(labels))
		for i, l := range labels {
			rows[i] = labelJSON{l.ID, l.Name, l.Type, l.MessagesTotal, l.MessagesUnread}
		}
		return writeJSON(out, rows)
	}

	if len(labels) == 0 {
		fmt.Fprintln(out, "No labels found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE")
	for _, l := range labels {
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.ID, l.Name, l.Type)
	}
	return w.Flush()
}

func init() {
	labelsCmd.Flags().BoolVar(&labelsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(labelsCmd)
}
