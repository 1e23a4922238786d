// Package health provides the minimal liveness endpoint every cmd/
// service exposes alongside /metrics. Adapted from ops_api.go's
// healthHandler; the rest of that file (live mode switching, paper
// config mutation over HTTP) is a dashboard-style control surface and
// stays out of scope.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

type response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler responds 200 with the current time, for container/process
// liveness probes.
func Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{Status: "healthy", Timestamp: time.Now()})
}
