// Package response provides JSON response helpers for the admin API.
package response

import (
	"encoding/json"
	"net/http"
)

// Result is the envelope returned by the deploy endpoints.
type Result struct {
	Result string `json:"result"`
}

// Health is the envelope returned by the health endpoint.
type Health struct {
	Status string `json:"status"`
}

// OK writes a 200 response with a result message.
func OK(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, Result{Result: msg})
}

// Fail writes a 500 response with a result message describing the failure.
func Fail(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusInternalServerError, Result{Result: msg})
}

// FailWithStatus writes an error response with a custom status code.
func FailWithStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Result{Result: msg})
}

// Healthy writes the health check payload.
func Healthy(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, Health{Status: "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"result":"failed to encode response"}`, http.StatusInternalServerError)
	}
}
