package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func chatCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Repair chats of accepted engagements",
	}
	cmd.AddCommand(chatPendingCmd(opts))
	cmd.AddCommand(chatReseedCmd(opts))
	return cmd
}

func chatPendingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List accepted engagements without system messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			waiting, err := a.ledger().ListAwaitingChat(cmd.Context())
			if err != nil {
				return err
			}
			if len(waiting) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Every accepted engagement has a chat.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tREQUESTER\tPROVIDER\tDECIDED")
			for _, e := range waiting {
				decided := ""
				if e.DecidedAt != nil {
					decided = e.DecidedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.RequesterID, e.ProviderID, decided)
			}
			return tw.Flush()
		},
	}
}

func chatReseedCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reseed [engagement-id...]",
		Short: "Write the missing system messages of accepted engagements",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass either engagement ids or --all")
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			decisions, err := a.decisions()
			if err != nil {
				return err
			}

			ids := args
			if all {
				waiting, err := a.ledger().ListAwaitingChat(cmd.Context())
				if err != nil {
					return err
				}
				for _, e := range waiting {
					ids = append(ids, e.ID)
				}
			}

			failed := 0
			for _, id := range ids {
				if _, err := decisions.CompleteAcceptance(cmd.Context(), id); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tFAILED\t%v\n", id, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tSEEDED\n", id)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d chats failed", failed, len(ids))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Reseed every accepted engagement without system messages")
	return cmd
}
