package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perigee-io/wco/internal/core"
)

// ListTiers returns the sizing catalog.
func (a *API) ListTiers(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"tiers": core.ResourceTiers})
}

func (a *API) GetCurrentTier(w http.ResponseWriter, r *http.Request) {
	tier, err := a.service.CurrentTier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tier": tier})
}

type resizeRequest struct {
	Tier string `json:"tier"`
}

func (a *API) ResizeWorkspace(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid JSON body"))
		return
	}
	if err := a.service.Resize(r.Context(), chi.URLParam(r, "id"), req.Tier); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tier": req.Tier})
}

type autoScaleRequest struct {
	AgentCount int `json:"agent_count"`
}

// AutoScaleWorkspace evaluates scaling for the requested concurrency. A
// declined scale is still 200; the decision body says why.
func (a *API) AutoScaleWorkspace(w http.ResponseWriter, r *http.Request) {
	var req autoScaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid JSON body"))
		return
	}
	decision, err := a.service.AutoScale(r.Context(), chi.URLParam(r, "id"), req.AgentCount)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, decision)
}

type agentLimitRequest struct {
	MaxAgents int `json:"max_agents"`
}

func (a *API) UpdateAgentLimit(w http.ResponseWriter, r *http.Request) {
	var req agentLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid JSON body"))
		return
	}
	if err := a.service.UpdateAgentLimit(r.Context(), chi.URLParam(r, "id"), req.MaxAgents); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"max_agents": req.MaxAgents})
}
