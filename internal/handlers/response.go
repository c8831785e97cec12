package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondWithError(w http.ResponseWriter, code int, errorCode, message string) {
	respondWithJSON(w, code, errorResponse{Error: errorCode, Message: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// queryInt returns fallback for absent values and values below min.
func queryInt(r *http.Request, key string, fallback, min int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return fallback
	}
	return n
}
