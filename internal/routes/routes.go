package routes

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crowdcounter/internal/config"
	"crowdcounter/internal/handlers"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/middleware"
	"crowdcounter/internal/services/query"
	wshub "crowdcounter/internal/services/websocket"
)

// Services are the collaborators the HTTP layer reads from.
type Services struct {
	Query    *query.Service
	Sources  handlers.StatusProvider
	Hub      *wshub.HubService
	Store    handlers.Pinger
	Registry prometheus.Gatherer
}

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists;
// otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")
		if _, err := os.Stat(filePath); err != nil {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers the API, the dashboard and the ops endpoints and
// wraps the mux with request logging.
func SetupRoutes(cfg *config.Config, svc Services, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))

	// API endpoints
	mux.HandleFunc("GET /api/crowd", handlers.GetCrowdHandler(svc.Query, logger))
	mux.HandleFunc("GET /api/crowd/history", handlers.GetHistoryHandler(svc.Query, logger))
	mux.HandleFunc("GET /api/sources", handlers.GetSourcesHandler(svc.Sources, logger))
	mux.HandleFunc("GET /api/live", handlers.LiveWebsocketHandler(svc.Hub, logger))

	// Ops endpoints
	mux.HandleFunc("GET /healthz", handlers.HealthHandler(svc.Store, logger))
	mux.Handle("GET /metrics", promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /logs/{level}", handlers.ShowLogsHandler(logger))
	mux.HandleFunc("POST /logs/{level}/clear", handlers.ClearLogsHandler(logger))

	// Automatic HTML handler mapping, for example / -> <static>/index.html
	mux.HandleFunc("GET /", dynamicHTMLHandler(cfg.StaticDir))

	return middleware.RequestLogger(logger)(mux)
}
