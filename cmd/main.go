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
	"fmt"
	"log"
	"os"

	rri "github.com/fabrii9/remote-receipt-import"
	"github.com/fabrii9/remote-receipt-import/config"
	"github.com/fabrii9/remote-receipt-import/database"
	"github.com/fabrii9/remote-receipt-import/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CLI wraps the root Cobra command for the application.
type CLI struct {
	cmd *cobra.Command
}

// rriInstance holds the runtime instance and its configuration, shared by all
// subcommands through the persistent pre-run hook.
type rriInstance struct {
	rri *rri.Rri
	cnf *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the runtime instance before any
// command executes.
func preRun(app *rriInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newRri, err := setupRri(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.rri = newRri
		app.cnf = cnf

		return nil
	}
}

// setupRri connects the data source and builds the runtime instance from the
// provided configuration.
func setupRri(cfg *config.Configuration) (*rri.Rri, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newRri, err := rri.NewRri(db)
	if err != nil {
		return nil, fmt.Errorf("error creating rri: %v", err)
	}
	return newRri, nil
}

// NewCLI assembles the command-line interface with all subcommands registered
// on the root command.
func NewCLI() *CLI {
	var configFile string
	b := &rriInstance{}

	var rootCmd = &cobra.Command{
		Use:   "rri",
		Short: "Remote receipt import engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./rri.json", "Configuration file for the import engine")

	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(importCommands(b))
	rootCmd.AddCommand(backupCommands(b))
	rootCmd.AddCommand(configCommands())

	return &CLI{cmd: rootCmd}
}

// executeCLI runs the root command, exiting non-zero on error.
func (w CLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
