package main

import (
	"fmt"
	"time"

	"healthmate/internal/export"
	"healthmate/internal/google"

	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func exportCmd(opts *rootOptions) *cobra.Command {
	var from, to, dir string
	var toSheet bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export engagements to an xlsx workbook",
		Long: `Export engagements created in a date range (both days inclusive) to an
xlsx workbook with a ledger sheet and a period summary. Defaults to the
current month. With --sheet the same rows replace the mirrored Google sheet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRange(from, to, time.Now().UTC())
			if err != nil {
				return err
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if dir == "" {
				dir = a.cfg.Exports.Path
			}
			path, err := export.NewExporter(a.db, dir, a.logger).Export(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)

			if !toSheet {
				return nil
			}
			if a.cfg.Google.GoogleCredentialsFile == "" || a.cfg.Google.LedgerSpreadSheetID == "" {
				return fmt.Errorf("google.credentials_file and google.ledger_spreadsheet_id are required for --sheet")
			}
			sheet, err := google.NewLedgerSheet(cmd.Context(), a.cfg.Google.GoogleCredentialsFile, a.cfg.Google.LedgerSpreadSheetID, a.logger)
			if err != nil {
				return err
			}
			engagements, err := a.ledger().ListByCreatedRange(cmd.Context(), start, end.AddDate(0, 0, 1))
			if err != nil {
				return err
			}
			if err := sheet.ReplaceLedger(cmd.Context(), engagements); err != nil {
				return fmt.Errorf("replace ledger sheet: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mirrored %d engagement(s) to the ledger sheet\n", len(engagements))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day, YYYY-MM-DD (default: first day of this month)")
	cmd.Flags().StringVar(&to, "to", "", "Last day, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVarP(&dir, "out", "o", "", "Output directory (default: exports.path)")
	cmd.Flags().BoolVar(&toSheet, "sheet", false, "Also rewrite the Google ledger sheet")
	return cmd
}

func parseRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var err error
	if from != "" {
		if start, err = time.Parse(dateLayout, from); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if end, err = time.Parse(dateLayout, to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", end.Format(dateLayout), start.Format(dateLayout))
	}
	return start, end, nil
}
