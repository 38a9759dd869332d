package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tOgg1/approvalq/internal/db"
	"github.com/tOgg1/approvalq/internal/models"
)

type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	var validation *models.ValidationErrors
	if errors.As(err, &validation) {
		body.Fields = validation.Fields()
	}
	writeJSON(w, status, body)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var validation *models.ValidationErrors
	switch {
	case errors.As(err, &validation), errors.Is(err, models.ErrUnknownApprovalType):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownInstance), errors.Is(err, db.ErrPendingNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConfiguration), errors.Is(err, models.ErrInstanceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
