package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perigee-io/wco/internal/core"
)

// CreateSnapshot requests an on-demand snapshot. An empty snapshot_id with
// 200 means the provider has no snapshot support.
func (a *API) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := a.service.CreateSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"snapshot_id": id})
}

func (a *API) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := a.service.ListSnapshots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []core.Snapshot{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}
