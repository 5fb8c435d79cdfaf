package handlers

import (
	"context"
	"net/http"
	"time"

	"crowdcounter/internal/logger"
	"crowdcounter/internal/model"
)

// StatusProvider reports the state of every monitored source.
type StatusProvider interface {
	Statuses() []model.SourceStatus
}

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func GetSourcesHandler(provider StatusProvider, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, provider.Statuses(), logger)
	}
}

// HealthHandler answers 200 while the store is reachable, 503 otherwise.
func HealthHandler(db Pinger, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			logger.Warning("Health check failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()}, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}
