package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON shape of every rejection produced by this package.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Current    int    `json:"current,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{
		Error:   http.StatusText(status),
		Message: message,
	})
}
