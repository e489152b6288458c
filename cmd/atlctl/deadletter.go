package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type DeadLetterRow struct {
	ItemID    string          `json:"item_id"`
	TenantID  string          `json:"tenant_id"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int32           `json:"attempts"`
	LastError json.RawMessage `json:"last_error,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

type DeadLetterListResponse struct {
	Items []DeadLetterRow `json:"items"`
}

var deadletterCmd = &cobra.Command{
	Use:     "deadletter",
	Aliases: []string{"dl"},
	Short:   "Dead-letter queue commands",
}

var dlListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered outbox items",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL, token)

		var resp DeadLetterListResponse
		if err := client.Get("/v1/admin/outbox/dead", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Items)
	},
}

var dlReplayCmd = &cobra.Command{
	Use:   "replay <item-id>",
	Short: "Return a dead item to the pending pool",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL, token)

		var resp struct {
			ItemID string `json:"item_id"`
			Status string `json:"status"`
		}
		if err := client.Post("/v1/admin/outbox/dead/"+args[0]+":replay", nil, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Item %s status: %s\n", resp.ItemID, resp.Status)
	},
}

func init() {
	deadletterCmd.AddCommand(dlListCmd, dlReplayCmd)
	rootCmd.AddCommand(deadletterCmd)
}
