package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

type TierRow struct {
	Name      string `json:"name"`
	CPUCores  int    `json:"cpu_cores"`
	MemoryMB  int    `json:"memory_mb"`
	MaxAgents int    `json:"max_agents"`
	CPUKind   string `json:"cpu_kind"`
}

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "List the resource tier catalog",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp struct {
			Tiers []TierRow `json:"tiers"`
		}
		if err := client.Get("/v1/tiers", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Tiers)
	},
}

var scaleCmd = &cobra.Command{
	Use:   "scale",
	Short: "Resource scaling commands",
}

var scaleTierCmd = &cobra.Command{
	Use:   "tier <workspace-id>",
	Short: "Show the workspace's live resource tier",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp struct {
			Tier string `json:"tier"`
		}
		if err := client.Get("/v1/workspaces/"+args[0]+"/tier", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(resp.Tier)
	},
}

var scaleResizeCmd = &cobra.Command{
	Use:   "resize <workspace-id> <tier>",
	Short: "Resize a workspace to a specific tier",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]string{"tier": args[1]}
		if err := client.Post("/v1/workspaces/"+args[0]+"/resize", req, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s resized to %s.\n", args[0], args[1])
	},
}

var scaleAutoCmd = &cobra.Command{
	Use:   "auto <workspace-id> <agent-count>",
	Short: "Evaluate auto-scaling for an agent count",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		count, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: agent-count must be a number\n")
			os.Exit(1)
		}

		var resp struct {
			Scaled      bool   `json:"scaled"`
			Reason      string `json:"reason"`
			CurrentTier string `json:"current_tier"`
			TargetTier  string `json:"target_tier"`
		}
		req := map[string]int{"agent_count": count}
		if err := client.Post("/v1/workspaces/"+args[0]+"/autoscale", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if resp.Scaled {
			fmt.Printf("Scaled %s -> %s\n", resp.CurrentTier, resp.TargetTier)
		} else {
			fmt.Printf("Not scaled (%s), staying on %s\n", resp.Reason, resp.CurrentTier)
		}
	},
}

var scaleAgentLimitCmd = &cobra.Command{
	Use:   "agent-limit <workspace-id> <max-agents>",
	Short: "Set the workspace's concurrent agent limit",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		limit, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: max-agents must be a number\n")
			os.Exit(1)
		}

		req := map[string]int{"max_agents": limit}
		if err := client.Post("/v1/workspaces/"+args[0]+"/agent-limit", req, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Agent limit for %s set to %d.\n", args[0], limit)
	},
}

func init() {
	scaleCmd.AddCommand(scaleTierCmd, scaleResizeCmd, scaleAutoCmd, scaleAgentLimitCmd)
	rootCmd.AddCommand(tiersCmd, scaleCmd)
}
