package core

type UpdateResultKind string

const (
	UpdateApplied             UpdateResultKind = "updated"
	UpdatePendingRestart      UpdateResultKind = "updated_pending_restart"
	UpdateSkippedActiveAgents UpdateResultKind = "skipped_active_agents"
	UpdateSkippedNotRunning   UpdateResultKind = "skipped_not_running"
	UpdateNotSupported        UpdateResultKind = "not_supported"
	UpdateError               UpdateResultKind = "error"
)

// UpdateResult is the per-workspace outcome of a graceful image update.
type UpdateResult struct {
	WorkspaceID  string           `json:"workspace_id"`
	Result       UpdateResultKind `json:"result"`
	MachineState MachineState     `json:"machine_state,omitempty"`
	AgentCount   int              `json:"agent_count,omitempty"`
	Agents       []string         `json:"agents,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// FleetUpdateSummary aggregates per-workspace update results.
type FleetUpdateSummary struct {
	Total   int                      `json:"total"`
	Counts  map[UpdateResultKind]int `json:"counts"`
	Results []UpdateResult           `json:"results"`
}

// Add records one result into the summary.
func (s *FleetUpdateSummary) Add(r UpdateResult) {
	if s.Counts == nil {
		s.Counts = make(map[UpdateResultKind]int)
	}
	s.Total++
	s.Counts[r.Result]++
	s.Results = append(s.Results, r)
}
