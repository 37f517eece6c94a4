package cmd

import (
	"errors"
	"fmt"

	"github.com/mailsift/mailsift/internal/oauth"
	"github.com/spf13/cobra"
)

var authAccount string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the stored OAuth token",
	Long: `Manage the OAuth token mailsift uses to read the mailbox.

mailsift does not run a browser consent flow. Obtain a token with the
gmail.readonly scope elsewhere (for example with the OAuth playground or
gcloud) and import it. Refreshed tokens are written back automatically.`,
}

var authImportCmd = &cobra.Command{
	Use:   "import <token.json>",
	Short: "Import a token file for the account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, mgr, err := authTarget()
		if err != nil {
			return err
		}
		if err := mgr.ImportToken(account, args[0]); err != nil {
			return fmt.Errorf("import token: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token for %s saved to %s\n", account, mgr.TokenPath(account))
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a usable token is stored",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		account, mgr, err := authTarget()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !mgr.HasToken(account) {
			fmt.Fprintf(out, "%s: no token (expected at %s)\n", account, mgr.TokenPath(account))
			return nil
		}
		scope := "missing gmail.readonly scope metadata"
		if mgr.HasScope(account, oauth.Scopes[0]) {
			scope = "gmail.readonly"
		}
		fmt.Fprintf(out, "%s: token present (%s)\n", account, scope)
		return nil
	},
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Delete the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		account, mgr, err := authTarget()
		if err != nil {
			return err
		}
		if err := mgr.DeleteToken(account); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token for %s removed\n", account)
		return nil
	},
}

// authTarget resolves the account from --account or the config.
func authTarget() (string, *oauth.Manager, error) {
	account := authAccount
	if account == "" {
		account = cfg.Gmail.Account
	}
	if account == "" {
		return "", nil, errors.New("no account: pass --account or set [gmail] account in config.toml")
	}
	mgr, err := newOAuthManager()
	if err != nil {
		return "", nil, err
	}
	return account, mgr, nil
}

func init() {
	authCmd.PersistentFlags().StringVar(&authAccount, "account", "", "account key (default: [gmail] account)")
	authCmd.AddCommand(authImportCmd, authStatusCmd, authRemoveCmd)
	rootCmd.AddCommand(authCmd)
}
