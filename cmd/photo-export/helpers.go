package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"photo-organizer/export/internal/jobs"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func parsePositiveInt(raw string, fallback int) int {
	val := strings.TrimSpace(raw)
	if val == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

// jobResponse is a job as served over HTTP, with its derived progress.
type jobResponse struct {
	jobs.Job
	Progress int `json:"progress"`
}

func newJobResponse(j jobs.Job) jobResponse {
	return jobResponse{Job: j, Progress: j.Progress()}
}
