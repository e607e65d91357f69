package main

import (
	backups "github.com/fabrii9/remote-receipt-import/internal/pg-backups"

	"github.com/sirupsen/logrus"

	"github.com/spf13/cobra"
)

func backupCommands(b *rriInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "back up the import database",
	}

	cmd.AddCommand(backupToDiskCommands())
	cmd.AddCommand(backupToS3Commands())

	return cmd
}

func backupToDiskCommands() *cobra.Command {
	return &cobra.Command{
		Use:   "disk",
		Short: "dump the database to the configured backup directory",
		Run: func(cmd *cobra.Command, args []string) {
			if err := backups.BackupDB(); err != nil {
				logrus.Error(err)
				return
			}
			logrus.Info("backup written to disk")
		},
	}
}

func backupToS3Commands() *cobra.Command {
	return &cobra.Command{
		Use:   "s3",
		Short: "dump the database, zip it and upload the archive to S3",
		Run: func(cmd *cobra.Command, args []string) {
			if err := backups.ZipUploadToS3(); err != nil {
				logrus.Error(err)
				return
			}
			logrus.Info("backup uploaded to S3")
		},
	}
}
