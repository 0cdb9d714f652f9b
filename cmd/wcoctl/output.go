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
	case []WorkspaceRow:
		if len(data) == 0 {
			fmt.Println("No workspaces found.")
			return
		}
		fmt.Fprintln(w, "ID\tSTATUS\tPROVIDER\tTIER\tPUBLIC URL\tCREATED")
		for _, ws := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", ws.ID, ws.Status, ws.ComputeProvider, ws.Config.ResourceTier, ws.PublicURL, ws.CreatedAt)
		}
	case WorkspaceRow:
		fmt.Fprintf(w, "ID:\t%s\n", data.ID)
		fmt.Fprintf(w, "User:\t%s\n", data.UserID)
		fmt.Fprintf(w, "Status:\t%s\n", data.Status)
		fmt.Fprintf(w, "Provider:\t%s\n", data.ComputeProvider)
		fmt.Fprintf(w, "Compute ID:\t%s\n", data.ComputeID)
		fmt.Fprintf(w, "Public URL:\t%s\n", data.PublicURL)
		fmt.Fprintf(w, "Tier:\t%s\n", data.Config.ResourceTier)
		fmt.Fprintf(w, "Max Agents:\t%d\n", data.Config.MaxAgents)
		fmt.Fprintf(w, "Created:\t%s\n", data.CreatedAt)
		if data.ErrorMessage != "" {
			fmt.Fprintf(w, "Error:\t%s\n", data.ErrorMessage)
		}
	case []TierRow:
		fmt.Fprintln(w, "NAME\tCPU\tMEMORY MB\tMAX AGENTS\tCPU KIND")
		for _, t := range data {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", t.Name, t.CPUCores, t.MemoryMB, t.MaxAgents, t.CPUKind)
		}
	case []SnapshotRow:
		if len(data) == 0 {
			fmt.Println("No snapshots found.")
			return
		}
		fmt.Fprintln(w, "SNAPSHOT ID\tSIZE\tCREATED")
		for _, s := range data {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.ID, s.SizeBytes, s.CreatedAt)
		}
	case []UpdateResultRow:
		fmt.Fprintln(w, "WORKSPACE\tRESULT\tAGENTS\tERROR")
		for _, u := range data {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", u.WorkspaceID, u.Result, u.AgentCount, truncate(u.Error, 60))
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
