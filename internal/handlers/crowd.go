package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"crowdcounter/internal/logger"
	"crowdcounter/internal/services/query"
)

// ErrorHeader carries the reason a degraded response was served.
const ErrorHeader = "X-Crowd-Error"

// GetCrowdHandler serves the latest persisted count of every source that
// has one. When the store cannot be read it answers 503 with an empty
// object.
func GetCrowdHandler(svc *query.Service, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest, err := svc.GetLatest(r.Context())
		status := http.StatusOK
		if err != nil {
			logger.Error("Error reading latest counts: %v", err)
			w.Header().Set(ErrorHeader, "storage unavailable")
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, latest, logger)
	}
}

// GetHistoryHandler serves the newest records of one source.
func GetHistoryHandler(svc *query.Service, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source")
		if source == "" {
			http.Error(w, "Missing source parameter", http.StatusBadRequest)
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
				return
			}
			limit = n
		}

		records, err := svc.History(r.Context(), source, limit)
		if err != nil {
			logger.Error("Error reading history for %s: %v", source, err)
			w.Header().Set(ErrorHeader, "storage unavailable")
			writeJSON(w, http.StatusServiceUnavailable, records, logger)
			return
		}

		writeJSON(w, http.StatusOK, records, logger)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
