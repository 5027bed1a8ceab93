package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"jobmatch/internal/util"
	"jobmatch/pkg/extract"
	"jobmatch/pkg/matching"
	"jobmatch/pkg/storage"
	"jobmatch/pkg/store"
	"jobmatch/services/api/internal/app"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, msg, errorCodeForStatus(status, msg))
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps use-case errors to a status and stable code. Anything
// unrecognised is a 500 carrying the error text.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	msg := err.Error()
	if errors.Is(err, matching.ErrInsufficientInput) {
		msg = "No users or jobs to match"
	}
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeErrorCode(w, status, msg, code)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest, "REQUEST_INVALID_INPUT"
	case errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict, "USER_EMAIL_EXISTS"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "RESOURCE_NOT_FOUND"
	case errors.Is(err, matching.ErrInsufficientInput):
		return http.StatusBadRequest, "MATCH_INSUFFICIENT_INPUT"
	case errors.Is(err, storage.ErrObjectStoreUnavailable):
		return http.StatusInternalServerError, "CV_STORAGE_UNAVAILABLE"
	case errors.Is(err, extract.ErrExtractionFailed):
		return http.StatusInternalServerError, "CV_EXTRACTION_FAILED"
	default:
		return http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR"
	}
}

func errorCodeForStatus(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "no file uploaded":
		return "CV_FILE_REQUIRED"
	case message == "file too large":
		return "CV_FILE_TOO_LARGE"
	case message == "invalid form data":
		return "CV_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case message == "too many requests":
		return "RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID_INPUT"
	case http.StatusNotFound:
		return "RESOURCE_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
