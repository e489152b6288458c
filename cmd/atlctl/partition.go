package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type PartitionRow struct {
	PartitionName string `json:"partition_name"`
	RangeStart    string `json:"range_start"`
	RangeEnd      string `json:"range_end"`
	CreatedAt     string `json:"created_at"`
	DroppedAt     string `json:"dropped_at,omitempty"`
}

type PartitionListResponse struct {
	Partitions []PartitionRow `json:"partitions"`
}

var partitionCmd = &cobra.Command{
	Use:     "partition",
	Aliases: []string{"part"},
	Short:   "Partition lifecycle commands",
}

var partListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monthly partitions",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL, token)

		var resp PartitionListResponse
		if err := client.Get("/v1/admin/partitions", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Partitions)
	},
}

var partEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Extend the partition horizon",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL, token)

		var resp struct {
			Created []string `json:"created"`
		}
		if err := client.Post("/v1/admin/partitions:ensure", nil, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(resp.Created) == 0 {
			fmt.Println("Horizon already covered.")
			return
		}
		for _, name := range resp.Created {
			fmt.Printf("Created: %s\n", name)
		}
	},
}

var partArchiveCmd = &cobra.Command{
	Use:   "archive <partition-name>",
	Short: "Export a sealed partition to cold storage",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL, token)

		var resp struct {
			PartitionName string `json:"partition_name"`
			ExportPath    string `json:"export_path"`
			ContentDigest string `json:"content_digest"`
			RowCount      int64  `json:"row_count"`
		}
		if err := client.Post("/v1/admin/partitions/"+args[0]+":archive", nil, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Partition archived.\n")
		fmt.Printf("Export: %s\n", resp.ExportPath)
		fmt.Printf("Digest: %s\n", resp.ContentDigest)
		fmt.Printf("Rows: %d\n", resp.RowCount)
	},
}

var partDropCmd = &cobra.Command{
	Use:   "drop <partition-name>",
	Short: "Drop an archived partition (retention capability required)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL, token)

		var resp struct {
			Dropped string `json:"dropped"`
		}
		if err := client.Delete("/v1/admin/partitions/"+args[0], &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Dropped: %s\n", resp.Dropped)
	},
}

func init() {
	partitionCmd.AddCommand(partListCmd, partEnsureCmd, partArchiveCmd, partDropCmd)
	rootCmd.AddCommand(partitionCmd)
}
