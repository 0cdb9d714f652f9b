package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/httpretry"
)

// ErrorResponse represents a WCO error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a WCO error response.
func WriteError(w http.ResponseWriter, err *core.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError translates facade errors onto the wire. AppErrors carry
// their own status; everything else is logged and reported generically so
// internal details never leak.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *core.AppError
	if errors.As(err, &appErr) {
		WriteError(w, appErr)
		return
	}
	if errors.Is(err, httpretry.ErrRetriesExhausted) {
		a.log.Error("compute API unavailable", zap.Error(err), zap.String("path", r.URL.Path))
		WriteError(w, core.NewAppError(core.ErrRetriesExhausted, "compute API unavailable"))
		return
	}
	a.log.Error("request failed", zap.Error(err), zap.String("path", r.URL.Path))
	WriteError(w, core.NewAppError(core.ErrBackendError, err.Error()))
}
