package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/mailsift/mailsift/internal/api"
	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/mime"
	"github.com/mailsift/mailsift/internal/retrieve"
	"github.com/spf13/cobra"
)

var (
	showRFC822 bool
	showJSON   bool
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show full message details",
	Long: `Show the complete details of a message by its Gmail id, or by its
Message-ID header with --rfc822.

Examples:
  mailsift show 18f0abc123def
  mailsift show --rfc822 "<CAF=abc@mail.gmail.com>"
  mailsift show 18f0abc123def --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *retrieve.Service, _ gmail.API) error {
			return runShow(cmd.Context(), cmd.OutOrStdout(), svc, args[0], showRFC822, showJSON)
		})
	},
}

func runShow(ctx context.Context, out io.Writer, svc *retrieve.Service, id string, byMessageID, asJSON bool) error {
	var (
		msg *mime.Message
		err error
	)
	if byMessageID {
		msg, err = svc.FindByMessageID(ctx, id)
	} else {
		msg, err = svc.Get(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message not found: %s", id)
	}

	if asJSON {
		return writeJSON(out, api.NewMessageDetail(msg))
	}
	writeMessageText(out, msg)
	return nil
}

func init() {
	showCmd.Flags().BoolVar(&showRFC822, "rfc822", false, "treat the argument as a Message-ID header")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(showCmd)
}
