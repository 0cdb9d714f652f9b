package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type SnapshotRow struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	SizeBytes int64  `json:"size_bytes"`
}

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"snap"},
	Short:   "Snapshot management commands",
}

var snapCreateCmd = &cobra.Command{
	Use:   "create <workspace-id>",
	Short: "Create an on-demand snapshot",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp struct {
			SnapshotID string `json:"snapshot_id"`
		}
		if err := client.Post("/v1/workspaces/"+args[0]+"/snapshots", nil, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if resp.SnapshotID == "" {
			fmt.Println("Provider does not support snapshots.")
			return
		}
		fmt.Printf("Snapshot created: %s\n", resp.SnapshotID)
	},
}

var snapListCmd = &cobra.Command{
	Use:   "list <workspace-id>",
	Short: "List snapshots for a workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp struct {
			Snapshots []SnapshotRow `json:"snapshots"`
		}
		if err := client.Get("/v1/workspaces/"+args[0]+"/snapshots", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Snapshots)
	},
}

func init() {
	snapshotCmd.AddCommand(snapCreateCmd, snapListCmd)
	rootCmd.AddCommand(snapshotCmd)
}
