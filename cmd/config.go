package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/fabrii9/remote-receipt-import/config"
	"github.com/spf13/cobra"
)

func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instances computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			// Copy before redacting: the running instance keeps its secrets.
			printable := *cfg
			if printable.Remote.APIKey != "" {
				printable.Remote.APIKey = "<redacted>"
			}
			if printable.Server.SecretKey != "" {
				printable.Server.SecretKey = "<redacted>"
			}
			if printable.AwsSecretAccessKey != "" {
				printable.AwsSecretAccessKey = "<redacted>"
			}

			data, err := json.MarshalIndent(printable, "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}
