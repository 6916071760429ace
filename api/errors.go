package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/attendance-engine/attendance"
)

const (
	codeNotFound       = "not_found"
	codeInvalidRequest = "invalid_request"
	codeConflict       = "conflict"
	codeInternal       = "internal"
)

// writeServiceError maps domain errors to HTTP status codes:
// not found → 404, invalid input → 400, state conflict → 409, else 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case attendance.IsNotFound(err):
		writeError(w, http.StatusNotFound, codeNotFound, "Resource not found", err)
	case attendance.IsClientError(err):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request", err)
	case attendance.IsConflict(err):
		writeError(w, http.StatusConflict, codeConflict, "Request conflicts with current state", err)
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "Internal error", nil)
	}
}

// writeValidationError lists the failing fields of a validator error.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body", err)
		return
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	writeError(w, http.StatusBadRequest, codeInvalidRequest, "Validation failed", errors.New(strings.Join(fields, "; ")))
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
