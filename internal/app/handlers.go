package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes builds the keepalive mux. /metrics is mounted here too when no
// separate metrics port is configured.
func (a *Application) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleKeepalive)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.Config.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return a.recoverPanics(a.logRequests(mux))
}

func metricsRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// handleKeepalive answers uptime pings from the hosting platform.
func (a *Application) handleKeepalive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "I'm alive. Ping from %d. Time: %s", a.Config.Server.Port, a.clock.Now().Format(time.RFC3339))
}

// handleHealth reports ok, or 503 when the last tick could not reach the
// store.
func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if last := a.Scheduler.Last(); last.Err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "last tick failed: %v", last.Err)
		return
	}
	fmt.Fprint(w, "ok")
}
