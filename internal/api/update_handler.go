package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/updater"
)

type updateRequest struct {
	Image       string `json:"image"`
	Force       bool   `json:"force"`
	SkipRestart bool   `json:"skip_restart"`
}

func (a *API) UpdateWorkspaceImage(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid JSON body"))
		return
	}
	if req.Image == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "image is required"))
		return
	}
	result, err := a.service.UpdateImage(r.Context(), chi.URLParam(r, "id"), req.Image,
		updater.Options{Force: req.Force, SkipRestart: req.SkipRestart})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

type fleetUpdateRequest struct {
	Image        string   `json:"image"`
	Force        bool     `json:"force"`
	SkipRestart  bool     `json:"skip_restart"`
	WorkspaceIDs []string `json:"workspace_ids,omitempty"`
	UserIDs      []string `json:"user_ids,omitempty"`
}

// UpdateFleetImage rolls an image across the targeted fleet synchronously;
// with default batching a large fleet can hold the request open for a
// while, which operators accept in exchange for a complete summary.
func (a *API) UpdateFleetImage(w http.ResponseWriter, r *http.Request) {
	var req fleetUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid JSON body"))
		return
	}
	if req.Image == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "image is required"))
		return
	}
	summary, err := a.service.UpdateFleet(r.Context(),
		updater.Target{WorkspaceIDs: req.WorkspaceIDs, UserIDs: req.UserIDs},
		req.Image,
		updater.Options{Force: req.Force, SkipRestart: req.SkipRestart})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}
