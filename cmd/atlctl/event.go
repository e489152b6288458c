package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

type EventRow struct {
	EventID    string `json:"event_id"`
	EventTS    string `json:"event_ts"`
	TenantID   string `json:"tenant_id"`
	EventType  string `json:"event_type"`
	Severity   string `json:"severity"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	ChainSeq   int64  `json:"chain_seq"`
	HashPrev   string `json:"hash_prev"`
	HashCurr   string `json:"hash_curr"`
	KeyVersion int    `json:"key_version"`
}

type EventListResponse struct {
	Events     []EventRow `json:"events"`
	NextCursor string     `json:"next_cursor"`
}

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Audit event commands",
}

var eventSubmitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Submit an event draft (JSON from file or stdin)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var raw []byte
		var err error
		if len(args) == 1 {
			raw, err = os.ReadFile(args[0])
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var draft map[string]interface{}
		if err := json.Unmarshal(raw, &draft); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid JSON: %v\n", err)
			os.Exit(1)
		}

		client := NewClient(apiURL, token)
		var resp struct {
			ItemID string `json:"item_id"`
			Status string `json:"status"`
		}
		if err := client.Post("/v1/events", draft, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Event accepted for ingestion.\n")
		fmt.Printf("Item ID: %s\n", resp.ItemID)
	},
}

var (
	eventInstanceID    string
	eventCorrelationID string
	eventEntityType    string
	eventEntityID      string
	eventCursor        string
	eventLimit         int
)

var eventListCmd = &cobra.Command{
	Use:   "list <tenant>",
	Short: "List a tenant's timeline",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tenant := args[0]
		client := NewClient(apiURL, token)

		q := url.Values{}
		if eventInstanceID != "" {
			q.Set("instance_id", eventInstanceID)
		}
		if eventCorrelationID != "" {
			q.Set("correlation_id", eventCorrelationID)
		}
		if eventEntityType != "" {
			q.Set("entity_type", eventEntityType)
		}
		if eventEntityID != "" {
			q.Set("entity_id", eventEntityID)
		}
		if eventCursor != "" {
			q.Set("cursor", eventCursor)
		}
		if eventLimit > 0 {
			q.Set("limit", fmt.Sprint(eventLimit))
		}

		path := "/v1/tenants/" + tenant + "/events"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var resp EventListResponse
		if err := client.Get(path, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Events)
		if resp.NextCursor != "" {
			fmt.Printf("Next cursor: %s\n", resp.NextCursor)
		}
	},
}

var eventGetCmd = &cobra.Command{
	Use:   "get <tenant> <event-id>",
	Short: "Get a single event",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL, token)

		var resp EventRow
		if err := client.Get("/v1/tenants/"+args[0]+"/events/"+args[1], &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp)
	},
}

func init() {
	eventListCmd.Flags().StringVar(&eventInstanceID, "instance-id", "", "Filter by workflow instance")
	eventListCmd.Flags().StringVar(&eventCorrelationID, "correlation-id", "", "Filter by correlation ID")
	eventListCmd.Flags().StringVar(&eventEntityType, "entity-type", "", "Filter by entity type")
	eventListCmd.Flags().StringVar(&eventEntityID, "entity-id", "", "Filter by entity ID")
	eventListCmd.Flags().StringVar(&eventCursor, "cursor", "", "Pagination cursor")
	eventListCmd.Flags().IntVar(&eventLimit, "limit", 0, "Page size")

	eventCmd.AddCommand(eventSubmitCmd, eventListCmd, eventGetCmd)
	rootCmd.AddCommand(eventCmd)
}
