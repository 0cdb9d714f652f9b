package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type WorkspaceConfigRow struct {
	Repositories      []string `json:"repositories"`
	Providers         []string `json:"providers"`
	SupervisorEnabled bool     `json:"supervisor_enabled"`
	MaxAgents         int      `json:"max_agents"`
	ResourceTier      string   `json:"resource_tier"`
}

type WorkspaceRow struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	ComputeProvider string             `json:"compute_provider"`
	ComputeID       string             `json:"compute_id"`
	PublicURL       string             `json:"public_url"`
	Status          string             `json:"status"`
	ErrorMessage    string             `json:"error_message"`
	Config          WorkspaceConfigRow `json:"config"`
	CreatedAt       string             `json:"created_at"`
}

type WorkspaceListResponse struct {
	Workspaces []WorkspaceRow `json:"workspaces"`
}

type ProvisionResponse struct {
	WorkspaceID string `json:"workspace_id"`
	Status      string `json:"status"`
	StatusHref  string `json:"status_href"`
	StageHref   string `json:"stage_href"`
}

var (
	wsProvider  string
	wsTier      string
	wsMaxAgents int
	wsRepos     []string
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Workspace management commands",
}

var wsProvisionCmd = &cobra.Command{
	Use:   "provision <user-id>",
	Short: "Provision a new workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		req := map[string]interface{}{
			"user_id":  args[0],
			"provider": wsProvider,
			"config": map[string]interface{}{
				"repositories":  wsRepos,
				"max_agents":    wsMaxAgents,
				"resource_tier": wsTier,
			},
		}

		var resp ProvisionResponse
		if err := client.Post("/v1/workspaces", req, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Workspace provisioning started.\n")
		fmt.Printf("Workspace ID: %s\n", resp.WorkspaceID)
		fmt.Printf("Check status: wcoctl workspace status %s\n", resp.WorkspaceID)
	},
}

var wsGetCmd = &cobra.Command{
	Use:   "get <workspace-id>",
	Short: "Get workspace details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var ws WorkspaceRow
		if err := client.Get("/v1/workspaces/"+args[0], &ws); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(ws)
	},
}

var wsListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's workspaces",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp WorkspaceListResponse
		if err := client.Get("/v1/workspaces?user_id="+args[0], &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(resp.Workspaces)
	},
}

var wsStatusCmd = &cobra.Command{
	Use:   "status <workspace-id>",
	Short: "Get live workspace status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp struct {
			Status string `json:"status"`
		}
		if err := client.Get("/v1/workspaces/"+args[0]+"/status", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(resp.Status)
	},
}

var wsStageCmd = &cobra.Command{
	Use:   "stage <workspace-id>",
	Short: "Show the current provisioning stage",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		var resp struct {
			Stage     string `json:"stage"`
			StartedAt string `json:"started_at"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := client.Get("/v1/workspaces/"+args[0]+"/stage", &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Stage: %s (since %s)\n", resp.Stage, resp.UpdatedAt)
	},
}

var wsDeprovisionCmd = &cobra.Command{
	Use:   "deprovision <workspace-id>",
	Short: "Deprovision a workspace and delete its record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		if err := client.Delete("/v1/workspaces/"+args[0], nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s deprovisioned.\n", args[0])
	},
}

var wsRestartCmd = &cobra.Command{
	Use:   "restart <workspace-id>",
	Short: "Restart a workspace's compute instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		if err := client.Post("/v1/workspaces/"+args[0]+"/restart", nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s restarting.\n", args[0])
	},
}

var wsStopCmd = &cobra.Command{
	Use:   "stop <workspace-id>",
	Short: "Stop a workspace's compute instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(apiURL)

		if err := client.Post("/v1/workspaces/"+args[0]+"/stop", nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Workspace %s stopped.\n", args[0])
	},
}

func init() {
	wsProvisionCmd.Flags().StringVar(&wsProvider, "provider", "", "Compute provider (flyio, railway, docker)")
	wsProvisionCmd.Flags().StringVar(&wsTier, "tier", "small", "Resource tier")
	wsProvisionCmd.Flags().IntVar(&wsMaxAgents, "max-agents", 2, "Maximum concurrent agents")
	wsProvisionCmd.Flags().StringSliceVar(&wsRepos, "repo", nil, "Repository to clone (repeatable)")

	workspaceCmd.AddCommand(wsProvisionCmd, wsGetCmd, wsListCmd, wsStatusCmd, wsStageCmd,
		wsDeprovisionCmd, wsRestartCmd, wsStopCmd)
	rootCmd.AddCommand(workspaceCmd)
}
