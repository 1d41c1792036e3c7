package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kstaniek/go-wearable-proxy/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router exposes /metrics, /ready and /status (JSON snapshot).
func Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Ready bool     `json:"ready"`
			Stats Snapshot `json:"stats"`
		}{IsReady(), Snap()})
	})
	return r
}

// StartHTTP serves Router on addr in the background.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: Router(),
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
