package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorKind is the closed taxonomy of structured pipeline failures. Kinds,
// not human strings, drive retry/caching/status-code decisions upstream;
// the HTTP layer only maps a kind to a status code and a message.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindRateLimited       ErrorKind = "rate_limited"
	KindModelUnavailable  ErrorKind = "model_unavailable"
	KindBackendTransient  ErrorKind = "backend_transient"
	KindBackendRejected   ErrorKind = "backend_rejected"
	KindTimeout           ErrorKind = "timeout"
	KindInternal          ErrorKind = "internal"
)

// APIError is the JSON envelope returned to clients on any failure.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Message    string    `json:"message"`
	Kind       ErrorKind `json:"kind"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, kind ErrorKind, message string) {
	writeError(w, requestID, statusCode, kind, message, nil)
}

func WriteRateLimitErrorWithRetry(w http.ResponseWriter, requestID, message string, retryAfterSeconds int) {
	writeError(w, requestID, http.StatusTooManyRequests, KindRateLimited, message, &retryAfterSeconds)
}

func writeError(w http.ResponseWriter, requestID string, statusCode int, kind ErrorKind, message string, retryAfter *int) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{
		Error: APIErrorBody{
			Message:    message,
			Kind:       kind,
			RequestID:  requestID,
			RetryAfter: retryAfter,
		},
	})
}

func WriteValidationError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, KindValidation, message)
}

func WriteAuthError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnauthorized, KindUnauthorized, message)
}

func WriteModelUnavailableError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusNotFound, KindModelUnavailable, message)
}

func WriteTimeoutError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusRequestTimeout, KindTimeout, message)
}

func WriteBackendError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadGateway, KindBackendTransient, message)
}

func WriteNotReadyError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, KindInternal, message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, KindInternal, message)
}

// KindToStatus maps an ErrorKind to the HTTP status spec.md §6 assigns it.
// backend_rejected (a 4xx the backend client never retries) surfaces as
// 502, the same status as backend_transient after its retries are
// exhausted.
func KindToStatus(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindModelUnavailable:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindBackendTransient, KindBackendRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
