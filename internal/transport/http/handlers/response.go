package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/848838/ChatApp/internal/domain"
	"github.com/848838/ChatApp/pkg/validator"
)

var statusByCode = map[string]int{
	"EMAIL_TAKEN":         http.StatusConflict,
	"UNAUTHORIZED":        http.StatusUnauthorized,
	"VALIDATION_ERROR":    http.StatusBadRequest,
	"NOT_FOUND":           http.StatusNotFound,
	"FORBIDDEN":           http.StatusForbidden,
	"STORAGE_UNAVAILABLE": http.StatusServiceUnavailable,
	"TIMEOUT":             http.StatusGatewayTimeout,
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":   "VALIDATION_ERROR",
			"fields": errs,
		},
	})
}

// writeServiceError turns a service error into its status and code. Details
// of server-side failures stay in the log.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	code := domain.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := err.Error()
	switch {
	case errors.Is(err, domain.ErrStorage):
		message = "Storage is unavailable, try again later"
	case errors.Is(err, domain.ErrTimeout):
		message = "Request timed out"
	case status == http.StatusInternalServerError:
		message = "Something went wrong"
	}

	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "op", op, "error", err)
	}
	writeError(w, status, code, message)
}
