package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-atl/internal/core"
)

// ErrorResponse represents an ATL error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes an ATL error response.
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

// writeServiceError maps a service-layer error onto the wire: typed errors
// keep their code and status, anything else becomes an opaque 500.
func (a *API) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	var appErr *core.AppError
	if errors.As(err, &appErr) {
		WriteError(w, appErr)
		return
	}
	a.log.Error(logMsg, zap.Error(err))
	WriteError(w, core.NewAppError(core.ErrInternal, "internal server error"))
}

// WriteAccepted writes a 202 Accepted response with an outbox item reference.
func WriteAccepted(w http.ResponseWriter, itemID string) {
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"item_id": itemID,
		"status":  "pending",
	})
}
