package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type UpdateResultRow struct {
	WorkspaceID  string `json:"workspace_id"`
	Result       string `json:"result"`
	MachineState string `json:"machine_state"`
	AgentCount   int    `json:"agent_count"`
	Error        string `json:"error"`
}

type FleetSummaryResponse struct {
	Total   int               `json:"total"`
	Counts  map[string]int    `json:"counts"`
	Results []UpdateResultRow `json:"results"`
}

var (
	updForce       bool
	updSkipRestart bool
	updWorkspaces  []string
	updUsers       []string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Graceful image update commands",
}

var updImageCmd = &cobra.Command{
	Use:   "image <workspace-id> <image>",
	Short: "Update one workspace to a new image",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]interface{}{
			"image":        args[1],
			"force":        updForce,
			"skip_restart": updSkipRestart,
		}
		var resp UpdateResultRow
		if err := client.Post("/v1/workspaces/"+args[0]+"/update", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Result: %s\n", resp.Result)
		if resp.AgentCount > 0 {
			fmt.Printf("Active agents: %d\n", resp.AgentCount)
		}
		if resp.Error != "" {
			fmt.Printf("Error: %s\n", resp.Error)
		}
	},
}

var updFleetCmd = &cobra.Command{
	Use:   "fleet <image>",
	Short: "Roll a new image across the fleet",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]interface{}{
			"image":         args[0],
			"force":         updForce,
			"skip_restart":  updSkipRestart,
			"workspace_ids": updWorkspaces,
			"user_ids":      updUsers,
		}
		var resp FleetSummaryResponse
		if err := client.Post("/v1/fleet/update", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Fleet update complete: %d workspaces\n", resp.Total)
		for kind, n := range resp.Counts {
			fmt.Printf("  %s: %d\n", kind, n)
		}
		printResult(resp.Results)
	},
}

func init() {
	updateCmd.PersistentFlags().BoolVar(&updForce, "force", false, "Update even with active agents")
	updateCmd.PersistentFlags().BoolVar(&updSkipRestart, "skip-restart", false, "Stage the image without restarting")
	updFleetCmd.Flags().StringSliceVar(&updWorkspaces, "workspace", nil, "Target workspace ID (repeatable, default all)")
	updFleetCmd.Flags().StringSliceVar(&updUsers, "user", nil, "Target user ID (repeatable)")

	updateCmd.AddCommand(updImageCmd, updFleetCmd)
	rootCmd.AddCommand(updateCmd)
}
