package router

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status      string          `json:"status"`
	Time        string          `json:"time"`
	Environment string          `json:"environment"`
	Services    map[string]bool `json:"services"`
}

func healthHandler(env string, services map[string]bool) http.HandlerFunc {
	if services == nil {
		services = map[string]bool{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{
			Status:      "ok",
			Time:        time.Now().UTC().Format(time.RFC3339),
			Environment: env,
			Services:    services,
		})
	}
}
