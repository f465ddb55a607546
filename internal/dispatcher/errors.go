package dispatcher

import (
	"encoding/json"
	"net/http"
)

// apiError is the OpenAI-compatible error envelope returned to clients.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeJSONError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Error: apiErrorBody{Message: message, Type: errType}})
}

func writeRequestTooLarge(w http.ResponseWriter) {
	writeJSONError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body exceeds the configured size limit")
}

func writeInvalidRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
}

func writeOriginFailed(w http.ResponseWriter) {
	writeJSONError(w, http.StatusServiceUnavailable, "dedup_origin_failed", "original request failed, please retry")
}

func writeUpstreamExhausted(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusBadGateway, "upstream_unavailable", message)
}
