package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
)

func printResult(v interface{}) {
	if output == "json" {
		json.NewEncoder(os.Stdout).Encode(v)
		return
	}
	printTable(v)
}

func printTable(v interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch data := v.(type) {
	case []EventRow:
		if len(data) == 0 {
			fmt.Println("No events found.")
			return
		}
		fmt.Fprintln(w, "EVENT ID\tSEQ\tTYPE\tSEVERITY\tACTION\tACTOR\tTIMESTAMP")
		for _, e := range data {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
				e.EventID[:8], e.ChainSeq, e.EventType, e.Severity, truncate(e.Action, 30), e.ActorID, e.EventTS)
		}
	case EventRow:
		fmt.Fprintf(w, "Event ID:\t%s\n", data.EventID)
		fmt.Fprintf(w, "Tenant:\t%s\n", data.TenantID)
		fmt.Fprintf(w, "Timestamp:\t%s\n", data.EventTS)
		fmt.Fprintf(w, "Type:\t%s\n", data.EventType)
		fmt.Fprintf(w, "Severity:\t%s\n", data.Severity)
		fmt.Fprintf(w, "Action:\t%s\n", data.Action)
		fmt.Fprintf(w, "Actor:\t%s\n", data.ActorID)
		fmt.Fprintf(w, "Chain Seq:\t%d\n", data.ChainSeq)
		fmt.Fprintf(w, "Hash Prev:\t%s\n", data.HashPrev)
		fmt.Fprintf(w, "Hash Curr:\t%s\n", data.HashCurr)
		fmt.Fprintf(w, "Key Version:\t%d\n", data.KeyVersion)
	case []PartitionRow:
		if len(data) == 0 {
			fmt.Println("No partitions found.")
			return
		}
		fmt.Fprintln(w, "PARTITION\tRANGE START\tRANGE END\tDROPPED")
		for _, p := range data {
			dropped := "-"
			if p.DroppedAt != "" {
				dropped = p.DroppedAt
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.PartitionName, p.RangeStart, p.RangeEnd, dropped)
		}
	case []DeadLetterRow:
		if len(data) == 0 {
			fmt.Println("No dead letters found.")
			return
		}
		fmt.Fprintln(w, "ITEM ID\tTENANT\tATTEMPTS\tUPDATED")
		for _, i := range data {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", i.ItemID[:8], i.TenantID, i.Attempts, i.UpdatedAt)
		}
	default:
		json.NewEncoder(os.Stdout).Encode(v)
	}
	w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
