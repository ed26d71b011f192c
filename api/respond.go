package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taskfair/taskfair"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // headers already sent
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case taskfair.IsInvalidArgument(err):
		status = http.StatusBadRequest
	case errors.Is(err, taskfair.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, taskfair.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, taskfair.ErrJobNotFound),
		errors.Is(err, taskfair.ErrSubscriptionNotFound),
		errors.Is(err, taskfair.ErrDLQNotFound),
		errors.Is(err, taskfair.ErrReceiptNotFound):
		status = http.StatusNotFound
	case errors.Is(err, taskfair.ErrJobAlreadyExists),
		errors.Is(err, taskfair.ErrNotDeletable),
		taskfair.IsInvalidState(err):
		status = http.StatusConflict
	}

	writeJSON(w, status, errorBody{Error: err.Error()})
}
