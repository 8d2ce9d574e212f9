package main

import (
	"log"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "querypilot",
		Short: "Answer natural-language questions against tenant databases",
		Long: `querypilot turns a question into SQL, runs it against the tenant's
database, retries on failure and streams charts and a summary back.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to the config file")
	rootCmd.AddCommand(serveCmd, askCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
