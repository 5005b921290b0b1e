package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"freight-insights/internal/domain"
)

// errorResponse is the JSON body for all error replies.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var (
		notFound    *domain.NotFoundError
		validation  *domain.ValidationError
		conflict    *domain.ConflictError
		unsupported *domain.UnsupportedFormatError
		processing  *domain.AlreadyProcessingError
		timeout     *domain.TimeoutError
		execution   *domain.QueryExecutionError
	)

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &conflict), errors.As(err, &processing):
		return http.StatusConflict
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &execution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
