package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthCheck reports service liveness for load balancers and probes.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	response := map[string]string{
		"status":  "ok",
		"service": "marketsync",
	}
	json.NewEncoder(w).Encode(response)
}
