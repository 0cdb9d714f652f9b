// Package railway provisions workspaces as Railway services, one project per
// workspace, driving the public GraphQL API. Railway exposes no volume
// snapshots, machine sizing, or suspend states, so only the required
// contract plus the agent-limit capability is implemented; everything else
// surfaces as not-supported through the capability checks.
package railway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/backend"
	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/httpretry"
	"github.com/perigee-io/wco/internal/observability"
)

type Config struct {
	APIURL         string        `envconfig:"WCO_RAILWAY_API_URL" default:"https://backboard.railway.app/graphql/v2"`
	Token          string        `envconfig:"WCO_RAILWAY_API_TOKEN"`
	TeamID         string        `envconfig:"WCO_RAILWAY_TEAM_ID"`
	Image          string        `envconfig:"WCO_WORKSPACE_IMAGE" default:"ghcr.io/perigee-io/wco-workspace:latest"`
	DeployDeadline time.Duration `envconfig:"WCO_RAILWAY_DEPLOY_DEADLINE" default:"120s"`
	DeployInterval time.Duration `envconfig:"WCO_RAILWAY_DEPLOY_INTERVAL" default:"3s"`
	HealthDeadline time.Duration `envconfig:"WCO_RAILWAY_HEALTH_DEADLINE" default:"90s"`
	HealthTimeout  time.Duration `envconfig:"WCO_RAILWAY_HEALTH_TIMEOUT" default:"5s"`
	HealthInterval time.Duration `envconfig:"WCO_RAILWAY_HEALTH_INTERVAL" default:"3s"`
}

type Backend struct {
	cfg    Config
	client *httpretry.Client
	log    *zap.Logger
}

func New(cfg Config, client *httpretry.Client, log *zap.Logger) *Backend {
	return &Backend{cfg: cfg, client: client, log: log}
}

func (b *Backend) Name() string { return core.ProviderRailway }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// gql executes one GraphQL operation and unmarshals data into out.
func (b *Backend) gql(ctx context.Context, query string, vars map[string]any, out any) error {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+b.cfg.Token)

	var resp gqlResponse
	httpResp, err := b.client.DoJSON(ctx, http.MethodPost, b.cfg.APIURL,
		gqlRequest{Query: query, Variables: vars}, &resp, httpretry.Options{Header: h})
	if err != nil {
		return err
	}
	if !httpResp.OK() {
		return fmt.Errorf("graphql: %s", httpResp.Status)
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("graphql: %s", resp.Errors[0].Message)
	}
	if out != nil {
		return json.Unmarshal(resp.Data, out)
	}
	return nil
}

// Railway compute ids are "projectID/serviceID" so one string field carries
// both handles the API needs.
func splitComputeID(computeID string) (projectID, serviceID string, err error) {
	parts := strings.SplitN(computeID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed railway compute id %q", computeID)
	}
	return parts[0], parts[1], nil
}

func (b *Backend) Provision(ctx context.Context, ws *core.Workspace, credentials map[string]string, advance backend.StageFunc) (*backend.ProvisionResult, error) {
	log := observability.WorkspaceLogger(b.log, ws.ID, b.Name())

	var projectID, serviceID string
	fail := func(stage core.Stage, err error) (*backend.ProvisionResult, error) {
		if projectID != "" {
			if derr := b.deleteProject(context.WithoutCancel(ctx), projectID); derr != nil {
				log.Error("abort cleanup failed", zap.Error(derr))
			}
		}
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	advance(core.StageCreating)
	var createOut struct {
		ProjectCreate struct {
			ID string `json:"id"`
		} `json:"projectCreate"`
	}
	err := b.gql(ctx, `mutation($input: ProjectCreateInput!) { projectCreate(input: $input) { id } }`,
		map[string]any{"input": map[string]any{"name": "wco-" + ws.ID, "teamId": b.cfg.TeamID}}, &createOut)
	if err != nil {
		return fail(core.StageCreating, err)
	}
	projectID = createOut.ProjectCreate.ID

	var svcOut struct {
		ServiceCreate struct {
			ID string `json:"id"`
		} `json:"serviceCreate"`
	}
	err = b.gql(ctx, `mutation($input: ServiceCreateInput!) { serviceCreate(input: $input) { id } }`,
		map[string]any{"input": map[string]any{
			"projectId": projectID,
			"name":      "workspace",
			"source":    map[string]any{"image": b.cfg.Image},
		}}, &svcOut)
	if err != nil {
		return fail(core.StageCreating, err)
	}
	serviceID = svcOut.ServiceCreate.ID

	advance(core.StageNetworking)
	// Domain creation parallels address allocation: best-effort, a failure
	// here leaves the workspace reachable over the project's default domain.
	var domainOut struct {
		ServiceDomainCreate struct {
			Domain string `json:"domain"`
		} `json:"serviceDomainCreate"`
	}
	publicURL := ""
	err = b.gql(ctx, `mutation($input: ServiceDomainCreateInput!) { serviceDomainCreate(input: $input) { domain } }`,
		map[string]any{"input": map[string]any{"serviceId": serviceID}}, &domainOut)
	if err != nil {
		log.Warn("domain allocation failed, continuing", zap.Error(err))
	} else {
		publicURL = "https://" + domainOut.ServiceDomainCreate.Domain
	}

	advance(core.StageSecrets)
	vars := map[string]string{"WCO_WORKSPACE_ID": ws.ID}
	for name, value := range credentials {
		vars[name] = value
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		err = b.gql(ctx, `mutation($input: VariableUpsertInput!) { variableUpsert(input: $input) }`,
			map[string]any{"input": map[string]any{
				"projectId": projectID,
				"serviceId": serviceID,
				"name":      name,
				"value":     vars[name],
			}}, nil)
		if err != nil {
			return fail(core.StageSecrets, err)
		}
	}

	advance(core.StageMachine)
	err = b.gql(ctx, `mutation($serviceId: String!) { serviceInstanceDeploy(serviceId: $serviceId) }`,
		map[string]any{"serviceId": serviceID}, nil)
	if err != nil {
		return fail(core.StageMachine, err)
	}

	advance(core.StageBooting)
	if err := b.waitDeployed(ctx, serviceID); err != nil {
		return fail(core.StageBooting, err)
	}

	advance(core.StageHealth)
	if publicURL != "" {
		b.waitHealthy(ctx, publicURL, log)
	} else {
		log.Warn("no public domain, skipping health confirmation")
	}

	advance(core.StageComplete)
	return &backend.ProvisionResult{
		ComputeID: projectID + "/" + serviceID,
		PublicURL: publicURL,
	}, nil
}

type latestDeployment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (b *Backend) latestDeployment(ctx context.Context, serviceID string) (*latestDeployment, error) {
	var out struct {
		Deployments struct {
			Edges []struct {
				Node latestDeployment `json:"node"`
			} `json:"edges"`
		} `json:"deployments"`
	}
	err := b.gql(ctx, `query($serviceId: String!) { deployments(first: 1, input: {serviceId: $serviceId}) { edges { node { id status } } } }`,
		map[string]any{"serviceId": serviceID}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Deployments.Edges) == 0 {
		return nil, fmt.Errorf("service %s has no deployments", serviceID)
	}
	return &out.Deployments.Edges[0].Node, nil
}

// waitDeployed polls the latest deployment until it reaches SUCCESS. The
// in-progress statuses are the API's "not yet"; terminal failure statuses
// are fatal immediately.
func (b *Backend) waitDeployed(ctx context.Context, serviceID string) error {
	deadline := time.Now().Add(b.cfg.DeployDeadline)
	for {
		if time.Until(deadline) <= 0 {
			return fmt.Errorf("deployment did not reach SUCCESS within %s", b.cfg.DeployDeadline)
		}
		dep, err := b.latestDeployment(ctx, serviceID)
		if err != nil {
			return err
		}
		switch dep.Status {
		case "SUCCESS":
			return nil
		case "QUEUED", "BUILDING", "DEPLOYING", "INITIALIZING", "WAITING":
			time.Sleep(b.cfg.DeployInterval)
		default:
			return fmt.Errorf("deployment %s entered %s", dep.ID, dep.Status)
		}
	}
}

func (b *Backend) waitHealthy(ctx context.Context, publicURL string, log *zap.Logger) {
	deadline := time.Now().Add(b.cfg.HealthDeadline)
	for time.Now().Before(deadline) {
		resp, err := b.client.Do(ctx, publicURL+"/health", httpretry.Options{
			Retries:    0,
			RetriesSet: true,
			Timeout:    b.cfg.HealthTimeout,
		})
		if err == nil && resp.StatusCode == http.StatusOK {
			log.Info("workspace daemon healthy", zap.String("url", publicURL))
			return
		}
		time.Sleep(b.cfg.HealthInterval)
	}
	log.Warn("health probe budget exhausted, proceeding",
		zap.Duration("budget", b.cfg.HealthDeadline))
}

func (b *Backend) deleteProject(ctx context.Context, projectID string) error {
	return b.gql(ctx, `mutation($id: String!) { projectDelete(id: $id) }`,
		map[string]any{"id": projectID}, nil)
}

func (b *Backend) Deprovision(ctx context.Context, ws *core.Workspace) error {
	projectID, _, err := splitComputeID(ws.ComputeID)
	if err != nil {
		return err
	}
	return b.deleteProject(ctx, projectID)
}

func (b *Backend) Status(ctx context.Context, ws *core.Workspace) (core.WorkspaceStatus, error) {
	_, serviceID, err := splitComputeID(ws.ComputeID)
	if err != nil {
		return "", err
	}
	dep, err := b.latestDeployment(ctx, serviceID)
	if err != nil {
		return "", err
	}
	return mapDeploymentStatus(dep.Status), nil
}

// mapDeploymentStatus folds Railway's deployment vocabulary into workspace
// statuses; unrecognized statuses are an error, not running.
func mapDeploymentStatus(status string) core.WorkspaceStatus {
	switch status {
	case "SUCCESS":
		return core.StatusRunning
	case "SLEEPING", "REMOVED":
		return core.StatusStopped
	case "QUEUED", "BUILDING", "DEPLOYING", "INITIALIZING", "WAITING":
		return core.StatusProvisioning
	default:
		return core.StatusError
	}
}

func (b *Backend) Restart(ctx context.Context, ws *core.Workspace) error {
	_, serviceID, err := splitComputeID(ws.ComputeID)
	if err != nil {
		return err
	}
	dep, err := b.latestDeployment(ctx, serviceID)
	if err != nil {
		return err
	}
	return b.gql(ctx, `mutation($id: String!) { deploymentRestart(id: $id) }`,
		map[string]any{"id": dep.ID}, nil)
}

func (b *Backend) Stop(ctx context.Context, ws *core.Workspace) error {
	_, serviceID, err := splitComputeID(ws.ComputeID)
	if err != nil {
		return err
	}
	dep, err := b.latestDeployment(ctx, serviceID)
	if err != nil {
		return err
	}
	return b.gql(ctx, `mutation($id: String!) { deploymentStop(id: $id) }`,
		map[string]any{"id": dep.ID}, nil)
}

// UpdateAgentLimit rewrites the daemon's concurrency variable; the running
// deployment picks it up on its next restart.
func (b *Backend) UpdateAgentLimit(ctx context.Context, ws *core.Workspace, maxAgents int) error {
	projectID, serviceID, err := splitComputeID(ws.ComputeID)
	if err != nil {
		return err
	}
	return b.gql(ctx, `mutation($input: VariableUpsertInput!) { variableUpsert(input: $input) }`,
		map[string]any{"input": map[string]any{
			"projectId": projectID,
			"serviceId": serviceID,
			"name":      "WCO_MAX_AGENTS",
			"value":     fmt.Sprintf("%d", maxAgents),
		}}, nil)
}

var (
	_ backend.Backend      = (*Backend)(nil)
	_ backend.AgentLimiter = (*Backend)(nil)
)
