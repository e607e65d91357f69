/*
Copyright 2024 The remote-receipt-import Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// importCommands groups the import lifecycle commands: uploading a payment
// file and steering an import that is already queued.
func importCommands(b *rriInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imports",
		Short: "upload and manage payment imports",
	}

	cmd.AddCommand(importUploadCommands(b))
	cmd.AddCommand(importStatusCommands(b))
	cmd.AddCommand(importPauseCommands(b))
	cmd.AddCommand(importResumeCommands(b))
	cmd.AddCommand(importCancelCommands(b))
	cmd.AddCommand(importExportCommands(b))

	return cmd
}

func importUploadCommands(b *rriInstance) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "queue a payment file for import",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f, err := os.Open(args[0])
			if err != nil {
				log.Fatalf("Error opening file: %v", err)
			}
			defer f.Close()

			batch, err := b.rri.ImportPayments(context.Background(), source, f, filepath.Base(args[0]))
			if err != nil {
				log.Fatalf("Error queueing import: %v", err)
			}

			fmt.Printf("Queued import %s with %d rows\n", batch.ImportID, batch.TotalItems)
		},
	}
	cmd.Flags().StringVar(&source, "source", "cli", "label recorded as the origin of this import")

	return cmd
}

func importStatusCommands(b *rriInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <import-id>",
		Short: "show progress counters for an import",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			stats, err := b.rri.GetImportStats(context.Background(), args[0])
			if err != nil {
				log.Fatalf("Error fetching import: %v", err)
			}

			data, err := json.MarshalIndent(stats, "", "    ")
			if err != nil {
				log.Fatalf("Error printing import: %v", err)
			}
			fmt.Println(string(data))
		},
	}

	return cmd
}

func importPauseCommands(b *rriInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause <import-id>",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			batch, err := b.rri.PauseImport(context.Background(), args[0])
			if err != nil {
				log.Fatalf("Error pausing import: %v", err)
			}
			fmt.Printf("Import %s is now %s\n", batch.ImportID, batch.Status)
		},
	}

	return cmd
}

func importResumeCommands(b *rriInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:  "resume <import-id>",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			batch, err := b.rri.ResumeImport(context.Background(), args[0])
			if err != nil {
				log.Fatalf("Error resuming import: %v", err)
			}
			fmt.Printf("Import %s is now %s\n", batch.ImportID, batch.Status)
		},
	}

	return cmd
}

func importCancelCommands(b *rriInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:  "cancel <import-id>",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			batch, err := b.rri.CancelImport(context.Background(), args[0])
			if err != nil {
				log.Fatalf("Error cancelling import: %v", err)
			}
			fmt.Printf("Import %s is now %s\n", batch.ImportID, batch.Status)
		},
	}

	return cmd
}

func importExportCommands(b *rriInstance) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export <import-id>",
		Short: "write per-row results to a CSV file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := out
			if path == "" {
				path = args[0] + ".csv"
			}

			f, err := os.Create(path)
			if err != nil {
				log.Fatalf("Error creating file: %v", err)
			}
			defer f.Close()

			if err := b.rri.ExportResults(context.Background(), args[0], f); err != nil {
				log.Fatalf("Error exporting results: %v", err)
			}
			fmt.Printf("Wrote results to %s\n", path)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path, defaults to <import-id>.csv")

	return cmd
}
