package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler serves the monitor's state over HTTP:
//
//	GET /health        aggregated scenario health as JSON
//	GET /health/nodes  per-node statuses as JSON
//	GET /healthz       liveness probe
func Handler(monitor *Monitor, scenarioName string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		aggregate := monitor.AggregateHealth(scenarioName)

		w.Header().Set("Content-Type", "application/json")
		if aggregate.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		if err := json.NewEncoder(w).Encode(aggregate); err != nil {
			logger.Error("failed to encode health response", "error", err)
		}
	})

	mux.HandleFunc("GET /health/nodes", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(monitor.GetAll()); err != nil {
			logger.Error("failed to encode node health response", "error", err)
		}
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}
