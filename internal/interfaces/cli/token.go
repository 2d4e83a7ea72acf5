package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosslist/backend/internal/infrastructure/auth"
)

func tokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage operator API tokens",
	}
	cmd.AddCommand(tokenIssueCmd(a))
	return cmd
}

func tokenIssueCmd(a *app) *cobra.Command {
	var (
		scopes []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue <operator>",
		Short: "Sign a token for an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range scopes {
				switch s {
				case auth.ScopeRead, auth.ScopeResolve, auth.ScopeSales:
				default:
					return fmt.Errorf("unknown scope %q", s)
				}
			}
			b, err := a.open()
			if err != nil {
				return err
			}
			issuer, err := b.Tokens()
			if err != nil {
				return err
			}
			token, expires, err := issuer.Issue(args[0], scopes, ttl)
			if err != nil {
				return err
			}
			if a.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"token":      token,
					"expires_at": expires.UTC().Format(time.RFC3339),
					"scopes":     scopes,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeRead}, "granted scopes (read, resolve, sales)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
