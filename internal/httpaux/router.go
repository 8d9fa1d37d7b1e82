// Package httpaux wires the daemon's "http" auxiliary listener: a
// chi-routed /metrics endpoint plus a /status endpoint reporting SAP
// bind table occupancy and connection registry counters.
package httpaux

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hfradio/stanag5066d/pkg/sap"
	"github.com/hfradio/stanag5066d/pkg/transport"
)

// connSummary is the JSON-safe projection of a live *transport.Connection
// exposed over /status; it excludes the connection's internal write
// queues and pinned PDU.
type connSummary struct {
	ID       string `json:"id"`
	Proto    string `json:"proto"`
	PeerAddr string `json:"peer_addr"`
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
	PDUsIn   uint64 `json:"pdus_in"`
	PDUsOut  uint64 `json:"pdus_out"`
}

type statusResponse struct {
	SAPBindings []sap.Binding `json:"sap_bindings"`
	Connections []connSummary `json:"connections"`
}

// NewRouter builds the aux HTTP mux: GET /metrics (reg's Prometheus
// families) and GET /status (a JSON snapshot of live SAP bindings and
// connections). logger receives one line per request.
func NewRouter(reg prometheus.Gatherer, saps *sap.Table, conns *transport.ConnRegistry, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpaux")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/status", handleStatus(saps, conns))

	return r
}

func handleStatus(saps *sap.Table, conns *transport.ConnRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		live := conns.Snapshot()
		summaries := make([]connSummary, 0, len(live))
		for _, c := range live {
			summaries = append(summaries, connSummary{
				ID:       c.ID.String(),
				Proto:    c.Proto.String(),
				PeerAddr: c.PeerAddr,
				BytesIn:  c.BytesIn,
				BytesOut: c.BytesOut,
				PDUsIn:   c.PDUsIn,
				PDUsOut:  c.PDUsOut,
			})
		}

		resp := statusResponse{
			SAPBindings: saps.Snapshot(),
			Connections: summaries,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
			)
		})
	}
}
