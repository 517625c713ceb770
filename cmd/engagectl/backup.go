package main

import (
	"fmt"

	"healthmate/internal/database"

	"github.com/spf13/cobra"
)

func backupCmd(opts *rootOptions) *cobra.Command {
	var dir string
	var cleanup bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent snapshot of the ledger database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := a.cfg.Backup
			if dir != "" {
				cfg.StoragePath = dir
			}
			if cfg.StoragePath == "" {
				return fmt.Errorf("backup.storage_path is not configured, pass --dir")
			}

			svc := database.NewBackupService(a.db, cfg, a.logger)
			path, err := svc.PerformBackup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)

			if cleanup {
				removed := svc.CleanupOldBackups()
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d old backup(s)\n", removed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Backup directory (default: backup.storage_path)")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Delete backups older than backup.retention_days")
	return cmd
}
