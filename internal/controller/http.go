// ABOUTME: Optional HTTP endpoint serving health and Prometheus metrics.
// ABOUTME: Runs separately from the agent listener; never touches the ZOMP port.

package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer builds the controller's health/metrics server. The metrics
// handler is mounted at metricsPath when gatherer is non-nil.
func NewHTTPServer(addr string, m *Manager, gatherer prometheus.Gatherer, metricsPath string) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		online := 0
		agents := m.Agents()
		for _, a := range agents {
			if a.Online {
				online++
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"agents":        len(agents),
			"agents_online": online,
		})
	})

	if gatherer != nil {
		mux.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
