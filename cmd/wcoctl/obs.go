package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var obsCmd = &cobra.Command{
	Use:   "obs",
	Short: "Observability commands (query VictoriaMetrics)",
}

var vmsingleURL string

type VMResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Metric map[string]string `json:"metric"`
			Value  []interface{}     `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

var obsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show system summary metrics",
	Run: func(cmd *cobra.Command, args []string) {
		url := vmsingleURL
		if url == "" {
			url = "http://localhost:8428"
		}

		queries := map[string]string{
			"Provision Success Rate": `sum(rate(wco_provision_total{result="ok"}[5m])) / sum(rate(wco_provision_total[5m])) * 100`,
			"HTTP Request Rate":      `sum(rate(wco_http_requests_total[5m]))`,
			"Active Provisions":      `wco_active_provisions`,
			"Active Requests":        `wco_active_requests`,
		}

		for name, query := range queries {
			val := queryVM(url, query)
			fmt.Printf("%s: %s\n", name, val)
		}
	},
}

var obsLatencyCmd = &cobra.Command{
	Use:   "latency",
	Short: "Show latency metrics",
	Run: func(cmd *cobra.Command, args []string) {
		url := vmsingleURL
		if url == "" {
			url = "http://localhost:8428"
		}

		queries := map[string]string{
			"HTTP P50":      `histogram_quantile(0.5, sum(rate(wco_http_request_duration_seconds_bucket[5m])) by (le))`,
			"HTTP P95":      `histogram_quantile(0.95, sum(rate(wco_http_request_duration_seconds_bucket[5m])) by (le))`,
			"HTTP P99":      `histogram_quantile(0.99, sum(rate(wco_http_request_duration_seconds_bucket[5m])) by (le))`,
			"Provision P95": `histogram_quantile(0.95, sum(rate(wco_provision_duration_seconds_bucket[5m])) by (le))`,
		}

		for name, query := range queries {
			val := queryVM(url, query)
			fmt.Printf("%s: %s\n", name, val)
		}
	},
}

var obsComputeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Show compute backend metrics",
	Run: func(cmd *cobra.Command, args []string) {
		url := vmsingleURL
		if url == "" {
			url = "http://localhost:8428"
		}

		queries := map[string]string{
			"Outbound Request Rate": `sum(rate(wco_outbound_requests_total[5m]))`,
			"Outbound Retry Rate":   `sum(rate(wco_outbound_retry_total[5m]))`,
			"Retries Exhausted":     `sum(rate(wco_outbound_exhausted_total[5m]))`,
			"Scale Decisions":       `sum(rate(wco_scale_decisions_total[5m]))`,
		}

		for name, query := range queries {
			val := queryVM(url, query)
			fmt.Printf("%s: %s\n", name, val)
		}
	},
}

var obsFleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Show fleet update metrics",
	Run: func(cmd *cobra.Command, args []string) {
		url := vmsingleURL
		if url == "" {
			url = "http://localhost:8428"
		}

		queries := map[string]string{
			"Updates Applied":    `sum(rate(wco_update_result_total{result="updated"}[5m]))`,
			"Updates Skipped":    `sum(rate(wco_update_result_total{result=~"skipped.*"}[5m]))`,
			"Fleet Rollout P95":  `histogram_quantile(0.95, sum(rate(wco_fleet_update_duration_seconds_bucket[5m])) by (le))`,
			"Snapshot Creations": `sum(rate(wco_snapshot_create_total[5m]))`,
		}

		for name, query := range queries {
			val := queryVM(url, query)
			fmt.Printf("%s: %s\n", name, val)
		}
	},
}

func queryVM(baseURL, query string) string {
	url := baseURL + "/api/v1/query?query=" + query
	resp, err := http.Get(url)
	if err != nil {
		return "error: " + err.Error()
	}
	defer resp.Body.Close()

	var vmResp VMResponse
	if err := json.NewDecoder(resp.Body).Decode(&vmResp); err != nil {
		return "parse error"
	}

	if len(vmResp.Data.Result) == 0 {
		return "no data"
	}

	result := vmResp.Data.Result[0]
	if len(result.Value) >= 2 {
		return fmt.Sprintf("%v", result.Value[1])
	}
	return "no value"
}

func init() {
	obsCmd.PersistentFlags().StringVar(&vmsingleURL, "vm-url", "http://localhost:8428", "VictoriaMetrics URL")
	obsCmd.AddCommand(obsSummaryCmd, obsLatencyCmd, obsComputeCmd, obsFleetCmd)
	rootCmd.AddCommand(obsCmd)
}
