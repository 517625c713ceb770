package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func tasksCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the background sync queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "failed",
		Short: "List dead-lettered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			tasks, err := a.db.GetFailedSyncTasks(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tENGAGEMENT\tRETRIES\tLAST ERROR")
			for _, t := range tasks {
				lastErr := ""
				if t.LastError != nil {
					lastErr = *t.LastError
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", t.ID, t.TaskType, t.EngagementID, t.RetryCount, lastErr)
			}
			return tw.Flush()
		},
	})

	var taskType string
	requeue := &cobra.Command{
		Use:   "requeue",
		Short: "Move dead-lettered tasks back to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.db.RequeueFailedSyncTasks(cmd.Context(), taskType)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d task(s)\n", n)
			return nil
		},
	}
	requeue.Flags().StringVarP(&taskType, "type", "t", "", "Only requeue tasks of this type (mirror_upsert, refund_retry)")
	cmd.AddCommand(requeue)

	return cmd
}
