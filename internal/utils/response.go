package utils

import (
	"encoding/json"
	"net/http"

	"github.com/rohits-web03/memoscribe/internal/apperr"
)

type Payload struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSONResponse sends a JSON response with given status, success flag, and payload
func JSONResponse(w http.ResponseWriter, status int, payload Payload) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// ErrorResponse writes err as a failed payload carrying its kind. Only the
// public message is sent; causes stay in the logs.
func ErrorResponse(w http.ResponseWriter, err error) {
	JSONResponse(w, apperr.HTTPStatus(err), Payload{
		Success: false,
		Kind:    string(apperr.KindOf(err)),
		Message: apperr.PublicMessage(err),
	})
}
