package main

import (
	"fmt"

	"healthmate/internal/auth"
	"healthmate/internal/models"

	"github.com/spf13/cobra"
)

func tokenCmd(opts *rootOptions) *cobra.Command {
	var sub, role, email string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with jwt.secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(cfg.JWT)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(sub, role, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "User id (subject)")
	cmd.Flags().StringVar(&role, "role", models.RoleAdmin, "requester, provider or admin")
	cmd.Flags().StringVar(&email, "email", "", "Optional email claim")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
