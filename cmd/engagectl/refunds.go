package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"healthmate/internal/models"

	"github.com/spf13/cobra"
)

func refundsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refunds",
		Short: "Reconcile rejected engagements whose refund did not go through",
	}
	cmd.AddCommand(refundsListCmd(opts))
	cmd.AddCommand(refundsRetryCmd(opts))
	return cmd
}

func refundsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rejected engagements that are still marked as paid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			pending, err := a.ledger().ListUnrefunded(cmd.Context())
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No unrefunded engagements.")
				return nil
			}
			printRefunds(cmd, pending)
			return nil
		},
	}
}

func printRefunds(cmd *cobra.Command, engagements []*models.Engagement) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPAYMENT INTENT\tTOTAL\tATTEMPTS\tDECIDED\tLAST ERROR")
	for _, e := range engagements {
		decided := ""
		if e.DecidedAt != nil {
			decided = e.DecidedAt.UTC().Format(time.RFC3339)
		}
		lastErr := ""
		if e.RefundError != nil {
			lastErr = *e.RefundError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s %s\t%d\t%s\t%s\n",
			e.ID, e.PaymentIntentID, e.TotalAmount, e.Currency, e.RefundAttempts, decided, lastErr)
	}
	_ = tw.Flush()
}

func refundsRetryCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [engagement-id...]",
		Short: "Retry the refund of one or more rejected engagements",
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
				pending, err := a.ledger().ListUnrefunded(cmd.Context())
				if err != nil {
					return err
				}
				for _, e := range pending {
					ids = append(ids, e.ID)
				}
			}

			failed := 0
			for _, id := range ids {
				e, err := decisions.RetryRefund(cmd.Context(), id)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tFAILED\t%v\n", id, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tREFUNDED\tpaid=%t\n", e.ID, e.IsPaid)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d refunds failed", failed, len(ids))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Retry every unrefunded engagement")
	return cmd
}
