package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL string
	token  string
	output string
)

var rootCmd = &cobra.Command{
	Use:   "atlctl",
	Short: "ATL CLI - Audit Trail Ledger command line tool",
	Long:  `atlctl is a command line interface for the Audit Trail Ledger (ATL).`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "a", "http://localhost:8080", "ATL API URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("ATL_TOKEN"), "Bearer token (defaults to ATL_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
}
