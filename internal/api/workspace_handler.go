package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/orchestrator"
)

// ProvisionWorkspace accepts a provisioning request and returns 202 with
// the new record; clients poll the status and stage endpoints from there.
func (a *API) ProvisionWorkspace(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid JSON body"))
		return
	}

	ws, err := a.service.Provision(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"workspace_id": ws.ID,
		"status":       ws.Status,
		"status_href":  "/v1/workspaces/" + ws.ID + "/status",
		"stage_href":   "/v1/workspaces/" + ws.ID + "/stage",
	})
}

// ListWorkspaces lists the workspaces owned by the user_id query parameter.
func (a *API) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "user_id query parameter is required"))
		return
	}
	workspaces, err := a.service.ListByUser(r.Context(), userID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if workspaces == nil {
		workspaces = []*core.Workspace{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"workspaces": workspaces})
}

func (a *API) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := a.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

func (a *API) DeprovisionWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Deprovision(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetWorkspaceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.service.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": status})
}

// GetProvisioningStage reports live provisioning progress; 404 once the
// tracker entry has been cleared.
func (a *API) GetProvisioningStage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := a.service.ProvisioningStage(id)
	if !ok {
		WriteError(w, core.NewAppError(core.ErrNotFound, "no provisioning in progress for workspace "+id))
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (a *API) RestartWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Restart(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) StopWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Stop(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
